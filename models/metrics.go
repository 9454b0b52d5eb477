package models

import "time"

// NodeMetrics is the telemetry recorded for one node.
type NodeMetrics struct {
	Latency          time.Duration `json:"latency_ns"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Model            string        `json:"model,omitempty"`
	CacheHit         bool          `json:"cache_hit"`
	BudgetExceeded   bool          `json:"budget_exceeded"`
	Calls            int           `json:"calls"`
}

func (n NodeMetrics) Tokens() int { return n.PromptTokens + n.CompletionTokens }

// Metrics is the request-level accumulator. Rollups are derived from Nodes on
// every merge so the reducer stays associative and commutative.
type Metrics struct {
	Nodes          map[string]NodeMetrics `json:"nodes"`
	TotalTokens    int                    `json:"total_tokens"`
	Latency        time.Duration          `json:"latency_ns"`
	BudgetExceeded bool                   `json:"budget_exceeded"`
}

func NewMetrics() *Metrics {
	return &Metrics{Nodes: make(map[string]NodeMetrics)}
}

// NodeFragment builds a single-node metrics value as returned by a node task.
func NodeFragment(node string, nm NodeMetrics) *Metrics {
	if nm.Calls == 0 {
		nm.Calls = 1
	}
	m := &Metrics{Nodes: map[string]NodeMetrics{node: nm}}
	m.rollup()
	return m
}

func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	c := &Metrics{
		Nodes:          make(map[string]NodeMetrics, len(m.Nodes)),
		TotalTokens:    m.TotalTokens,
		Latency:        m.Latency,
		BudgetExceeded: m.BudgetExceeded,
	}
	for k, v := range m.Nodes {
		c.Nodes[k] = v
	}
	return c
}

// MergeMetrics combines two accumulators without modifying either. Tokens and
// call counts add, latency takes the max, flags are OR'd.
func MergeMetrics(a, b *Metrics) *Metrics {
	out := NewMetrics()
	for _, src := range []*Metrics{a, b} {
		if src == nil {
			continue
		}
		for name, nm := range src.Nodes {
			if cur, ok := out.Nodes[name]; ok {
				out.Nodes[name] = mergeNode(cur, nm)
			} else {
				out.Nodes[name] = nm
			}
		}
	}
	out.rollup()
	return out
}

func mergeNode(a, b NodeMetrics) NodeMetrics {
	out := NodeMetrics{
		Latency:          max(a.Latency, b.Latency),
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		CacheHit:         a.CacheHit || b.CacheHit,
		BudgetExceeded:   a.BudgetExceeded || b.BudgetExceeded,
		Calls:            a.Calls + b.Calls,
		Model:            a.Model,
	}
	// deterministic pick keeps the merge commutative
	if b.Model > out.Model {
		out.Model = b.Model
	}
	return out
}

func (m *Metrics) rollup() {
	m.TotalTokens = 0
	m.Latency = 0
	m.BudgetExceeded = false
	for _, nm := range m.Nodes {
		m.TotalTokens += nm.Tokens()
		m.Latency = max(m.Latency, nm.Latency)
		m.BudgetExceeded = m.BudgetExceeded || nm.BudgetExceeded
	}
}
