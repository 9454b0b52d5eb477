package agents

import (
	"errors"
	"testing"

	"github.com/dyike/CortexThesis/consts"
)

func TestParseSentiment(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		label      string
		confidence string
		points     int
		wantErr    bool
	}{
		{"plain", `{"label":"bearish","points":["a","b"],"confidence":"medium"}`, consts.LabelBearish, consts.ConfidenceMedium, 2, false},
		{"fenced with prose", "Sure.\n```json\n{\"label\":\"Neutral\",\"points\":[\"a\"],\"confidence\":\"High\"}\n```", consts.LabelNeutral, consts.ConfidenceHigh, 1, false},
		{"synonym and missing confidence", `{"label":"sell","points":["a"]}`, consts.LabelBearish, consts.ConfidenceLow, 1, false},
		{"trailing comma", `{"label":"bullish","points":["a","b",],"confidence":"low"}`, consts.LabelBullish, consts.ConfidenceLow, 2, false},
		{"unknown label", `{"label":"moon","points":[]}`, "", "", 0, true},
		{"empty", "   ", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSentiment(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if s.Label != tt.label || s.Confidence != tt.confidence || len(s.Points) != tt.points {
				t.Fatalf("got %+v", s)
			}
		})
	}
}

func TestParseSentimentEmptyReply(t *testing.T) {
	if _, err := ParseSentiment(""); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestSentimentString(t *testing.T) {
	s, err := ParseSentiment(`{"label":"bullish","points":["beat estimates"],"confidence":"high"}`)
	if err != nil {
		t.Fatalf("ParseSentiment: %v", err)
	}
	if got, want := s.String(), "BULLISH (confidence: high)\n- beat estimates"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
