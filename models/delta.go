package models

import (
	"fmt"

	"github.com/dyike/CortexThesis/consts"
)

// Delta is a partial state update. A nil field means "not written".
type Delta struct {
	IsTickerValid *bool       `json:"is_ticker_valid,omitempty"`
	Industry      *string     `json:"industry,omitempty"`
	Business      *string     `json:"business,omitempty"`
	TickerInfo    *TickerInfo `json:"ticker_info,omitempty"`

	Sentiments map[consts.Branch]string `json:"sentiments,omitempty"`

	CombinedSentiment      *string `json:"combined_sentiment,omitempty"`
	Compliant              *bool   `json:"compliant,omitempty"`
	Feedback               *string `json:"feedback,omitempty"`
	RevisionIterationCount *int    `json:"revision_iteration_count,omitempty"`

	Metrics *Metrics `json:"metrics,omitempty"`
}

// Validation is what the validate node derives about an identity.
type Validation struct {
	IsValid    bool
	Industry   string
	Business   string
	TickerInfo *TickerInfo
}

// BranchDelta writes exactly one branch field.
func BranchDelta(b consts.Branch, text string, m *Metrics) *Delta {
	return &Delta{
		Sentiments: map[consts.Branch]string{b: text},
		Metrics:    m,
	}
}

func ValidationDelta(v Validation, m *Metrics) *Delta {
	d := &Delta{IsTickerValid: &v.IsValid, Metrics: m}
	if v.Industry != "" {
		industry := v.Industry
		d.Industry = &industry
	}
	if v.Business != "" {
		business := v.Business
		d.Business = &business
	}
	if v.TickerInfo != nil {
		info := *v.TickerInfo
		d.TickerInfo = &info
	}
	return d
}

func AggregationDelta(combined string, m *Metrics) *Delta {
	return &Delta{CombinedSentiment: &combined, Metrics: m}
}

// EvaluationDelta records one evaluator pass. Feedback is dropped when the
// output is compliant.
func EvaluationDelta(compliant bool, feedback string, iteration int, m *Metrics) *Delta {
	if compliant {
		feedback = ""
	}
	return &Delta{
		Compliant:              &compliant,
		Feedback:               &feedback,
		RevisionIterationCount: &iteration,
		Metrics:                m,
	}
}

// MergeDeltas joins deltas produced by parallel nodes. Two deltas writing the
// same field is a contract violation and returns an error; metrics are
// combined with MergeMetrics.
func MergeDeltas(ds []*Delta) (*Delta, error) {
	out := &Delta{}
	for _, d := range ds {
		if d == nil {
			continue
		}
		if err := mergeScalar("is_ticker_valid", &out.IsTickerValid, d.IsTickerValid); err != nil {
			return nil, err
		}
		if err := mergeScalar("industry", &out.Industry, d.Industry); err != nil {
			return nil, err
		}
		if err := mergeScalar("business", &out.Business, d.Business); err != nil {
			return nil, err
		}
		if err := mergeScalar("ticker_info", &out.TickerInfo, d.TickerInfo); err != nil {
			return nil, err
		}
		if err := mergeScalar("combined_sentiment", &out.CombinedSentiment, d.CombinedSentiment); err != nil {
			return nil, err
		}
		if err := mergeScalar("compliant", &out.Compliant, d.Compliant); err != nil {
			return nil, err
		}
		if err := mergeScalar("feedback", &out.Feedback, d.Feedback); err != nil {
			return nil, err
		}
		if err := mergeScalar("revision_iteration_count", &out.RevisionIterationCount, d.RevisionIterationCount); err != nil {
			return nil, err
		}
		for b, v := range d.Sentiments {
			if out.Sentiments == nil {
				out.Sentiments = make(map[consts.Branch]string)
			}
			if _, dup := out.Sentiments[b]; dup {
				return nil, fmt.Errorf("merge deltas: branch %q written twice", b)
			}
			out.Sentiments[b] = v
		}
		if d.Metrics != nil {
			out.Metrics = MergeMetrics(out.Metrics, d.Metrics)
		}
	}
	return out, nil
}

func mergeScalar[T any](field string, dst **T, src *T) error {
	if src == nil {
		return nil
	}
	if *dst != nil {
		return fmt.Errorf("merge deltas: field %q written twice", field)
	}
	*dst = src
	return nil
}
