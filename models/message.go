package models

import "time"

// NodeEvent is emitted by the graph callback handler for progress display.
type NodeEvent struct {
	Node      string        `json:"node"`
	Component string        `json:"component,omitempty"`
	Phase     string        `json:"phase"` // start, end, error
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"`
	At        time.Time     `json:"at"`
}
