package models

import (
	"fmt"
	"strings"
)

// Sentiment is the structured judgment a research capability produces.
type Sentiment struct {
	Label      string   `json:"label"`
	Points     []string `json:"points"`
	Confidence string   `json:"confidence"`
}

// String renders the judgment in the plain-text form stored in the state.
func (s Sentiment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (confidence: %s)", strings.ToUpper(s.Label), s.Confidence)
	for _, p := range s.Points {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return b.String()
}

// Usage is the resource accounting of one capability call.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model"`
}

func (u Usage) Tokens() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates usage across several calls made by one node.
func (u Usage) Add(o Usage) Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		Model:            u.Model,
	}
	if out.Model == "" {
		out.Model = o.Model
	}
	return out
}

// Review is the evaluator's verdict on a combined sentiment.
type Review struct {
	Compliant bool   `json:"compliant"`
	Feedback  string `json:"feedback"`
}
