package utils

import (
	"slices"
	"strings"
	"testing"

	"github.com/dyike/CortexThesis/consts"
)

func TestEveryBranchHasAPrompt(t *testing.T) {
	names := PromptNames()
	for _, b := range consts.Branches {
		if !slices.Contains(names, "analysts/"+b.String()) {
			t.Fatalf("no prompt for branch %s in %v", b, names)
		}
	}
	for _, name := range []string{"managers/aggregator", "managers/evaluator", "managers/reviser", "filings/queries"} {
		text, err := LoadPrompt(name)
		if err != nil {
			t.Fatalf("LoadPrompt(%s): %v", name, err)
		}
		if strings.TrimSpace(text) != text {
			t.Fatalf("prompt %s not trimmed", name)
		}
	}
}

func TestLoadPromptMissing(t *testing.T) {
	if _, err := LoadPrompt("analysts/astrology"); err == nil {
		t.Fatalf("expected error for a missing prompt")
	}
}
