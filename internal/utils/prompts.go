// Package utils holds the embedded system prompts.
package utils

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed prompts
var promptFiles embed.FS

// LoadPrompt returns prompts/<name>.md with surrounding whitespace removed.
// Single-brace placeholders are left for the chat template.
func LoadPrompt(name string) (string, error) {
	content, err := promptFiles.ReadFile("prompts/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", name, err)
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", fmt.Errorf("load prompt %s: empty", name)
	}
	return text, nil
}

// PromptNames lists every embedded prompt as the name LoadPrompt takes.
func PromptNames() []string {
	var names []string
	_ = fs.WalkDir(promptFiles, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return err
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md"))
		return nil
	})
	sort.Strings(names)
	return names
}
