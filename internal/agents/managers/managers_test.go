package managers

import (
	"context"
	"strings"
	"testing"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/agents/agenttest"
	"github.com/dyike/CortexThesis/models"
)

var subject = agents.Subject{
	Identity: models.Identity{Ticker: "MSFT", TradeDuration: consts.DurationLong, TradeDirection: consts.DirectionShort},
	Business: "Microsoft Corporation",
}

func TestFirstPassSeesAllEvidence(t *testing.T) {
	chat := &agenttest.ScriptedModel{Replies: []string{"  BEARISH thesis  "}}
	rm, err := NewResearchManager(&agents.LLM{Model: chat, Name: "deep"})
	if err != nil {
		t.Fatalf("NewResearchManager: %v", err)
	}
	out, _, err := rm.Aggregate(context.Background(), agents.AggregateInput{
		Subject: subject,
		Evidence: map[consts.Branch]string{
			consts.BranchTechnical:   "downtrend",
			consts.BranchFundamental: "rich valuation",
		},
		Pass: 1,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if out != "BEARISH thesis" {
		t.Fatalf("got %q", out)
	}
	prompt := chat.LastPrompt()
	fi, ti := strings.Index(prompt, "### fundamental"), strings.Index(prompt, "### technical")
	if fi < 0 || ti < 0 || fi > ti {
		t.Fatalf("evidence missing or out of order:\n%s", prompt)
	}
	if !strings.Contains(prompt, "short position") {
		t.Fatalf("direction not in prompt:\n%s", prompt)
	}
}

func TestRevisionSummaryOnly(t *testing.T) {
	chat := &agenttest.ScriptedModel{Replies: []string{"revised"}}
	rm, err := NewResearchManager(&agents.LLM{Model: chat})
	if err != nil {
		t.Fatalf("NewResearchManager: %v", err)
	}
	_, _, err = rm.Aggregate(context.Background(), agents.AggregateInput{
		Subject:  subject,
		Previous: "old thesis",
		Feedback: "name the risks",
		Pass:     2,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	prompt := chat.LastPrompt()
	for _, want := range []string{"old thesis", "name the risks", "revising"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Original research") {
		t.Fatalf("summary-only revision should not carry evidence:\n%s", prompt)
	}
}

func TestRevisionFullEvidence(t *testing.T) {
	chat := &agenttest.ScriptedModel{Replies: []string{"revised"}}
	rm, err := NewResearchManager(&agents.LLM{Model: chat})
	if err != nil {
		t.Fatalf("NewResearchManager: %v", err)
	}
	_, _, err = rm.Aggregate(context.Background(), agents.AggregateInput{
		Subject:  subject,
		Evidence: map[consts.Branch]string{consts.BranchMacro: "rates rising"},
		Previous: "old thesis",
		Feedback: "more macro",
		Pass:     2,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if prompt := chat.LastPrompt(); !strings.Contains(prompt, "Original research by branch:\n### macro\nrates rising") {
		t.Fatalf("full-evidence revision should carry evidence:\n%s", prompt)
	}
}

func TestEmptySynthesisIsError(t *testing.T) {
	chat := &agenttest.ScriptedModel{Replies: []string{"   "}}
	rm, err := NewResearchManager(&agents.LLM{Model: chat})
	if err != nil {
		t.Fatalf("NewResearchManager: %v", err)
	}
	if _, _, err := rm.Aggregate(context.Background(), agents.AggregateInput{Subject: subject}); err == nil {
		t.Fatal("expected error for empty synthesis")
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    models.Review
		wantErr bool
	}{
		{"compliant clears feedback", `{"compliant": true, "feedback": "fine"}`, models.Review{Compliant: true}, false},
		{"rejected", "Here you go:\n```json\n{\"compliant\": false, \"feedback\": \"cite sources\"}\n```", models.Review{Feedback: "cite sources"}, false},
		{"repaired", `{compliant: false, feedback: 'add risks'`, models.Review{Feedback: "add risks"}, false},
		{"empty", "", models.Review{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm, err := NewRiskManager(&agents.LLM{Model: &agenttest.ScriptedModel{Replies: []string{tt.reply}}})
			if err != nil {
				t.Fatalf("NewRiskManager: %v", err)
			}
			got, _, err := rm.Evaluate(context.Background(), agents.EvaluateInput{Subject: subject, Combined: "thesis", Iteration: 1})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
