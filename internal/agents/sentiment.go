package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/models"
)

// SentimentInstructions is appended to every branch prompt. Braces are
// doubled for FString templates.
const SentimentInstructions = `Reply with a single JSON object and nothing else:
{{"label": "bullish" | "neutral" | "bearish", "points": ["short evidence-backed point", ...], "confidence": "low" | "medium" | "high"}}
Give between two and five points.`

var ErrEmptyReply = errors.New("model returned an empty reply")

// ParseSentiment extracts a Sentiment from a model reply.
func ParseSentiment(raw string) (models.Sentiment, error) {
	var s models.Sentiment
	if err := DecodeReply(raw, &s); err != nil {
		return models.Sentiment{}, fmt.Errorf("parse sentiment: %w", err)
	}
	return normalize(s)
}

// DecodeReply decodes the JSON object in a model reply into v. Replies
// wrapped in prose or code fences, or with broken JSON, are repaired before
// decoding.
func DecodeReply(raw string, v any) error {
	body := extractJSON(raw)
	if body == "" {
		return ErrEmptyReply
	}
	err := json.Unmarshal([]byte(body), v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(body)
	if repairErr != nil {
		return fmt.Errorf("%w (repair: %v)", err, repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired reply: %w", err)
	}
	return nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "{")
	if start < 0 {
		return strings.TrimSpace(raw)
	}
	end := strings.LastIndex(raw, "}")
	if end < start {
		return raw[start:]
	}
	return raw[start : end+1]
}

func normalize(s models.Sentiment) (models.Sentiment, error) {
	s.Label = strings.ToLower(strings.TrimSpace(s.Label))
	switch s.Label {
	case consts.LabelBullish, consts.LabelNeutral, consts.LabelBearish:
	case "positive", "buy":
		s.Label = consts.LabelBullish
	case "negative", "sell":
		s.Label = consts.LabelBearish
	case "mixed", "hold":
		s.Label = consts.LabelNeutral
	default:
		return models.Sentiment{}, fmt.Errorf("unknown sentiment label %q", s.Label)
	}
	s.Confidence = strings.ToLower(strings.TrimSpace(s.Confidence))
	switch s.Confidence {
	case consts.ConfidenceLow, consts.ConfidenceMedium, consts.ConfidenceHigh:
	default:
		s.Confidence = consts.ConfidenceLow
	}
	points := s.Points[:0]
	for _, p := range s.Points {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	s.Points = points
	return s, nil
}
