package cache

import (
	"time"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
)

// Kind names the shape a policy derives its key and TTL with.
type Kind string

const (
	KindStatic      Kind = "static"
	KindBucketed    Kind = "time_bucketed"
	KindConditional Kind = "content_conditional"
	KindRequest     Kind = "request_scoped"
)

const (
	HourBucket = "2006-01-02T15"
	DayBucket  = "2006-01-02"
)

// Policy derives the cache key and TTL for one node from a state value
// (*models.State, models.State or map[string]any) and the current time.
type Policy struct {
	Node string
	Kind Kind

	derive func(st any, now time.Time) ([]string, time.Duration)
}

// Resolve returns the key and TTL for st at now.
func (p Policy) Resolve(st any, now time.Time) (Key, time.Duration) {
	parts, ttl := p.derive(st, now)
	return NewKey(p.Node, parts...), ttl
}

func fields(st any, names []string) []string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, Field(st, name))
	}
	return parts
}

// Static keys on the named fields, or on label when no field is named.
func Static(node string, ttl time.Duration, label string, names ...string) Policy {
	return Policy{Node: node, Kind: KindStatic, derive: func(st any, _ time.Time) ([]string, time.Duration) {
		if len(names) == 0 {
			return []string{label}, ttl
		}
		return fields(st, names), ttl
	}}
}

// Bucketed appends the current UTC time formatted with layout to the key.
// The entry lives until the bucket rolls over, capped at one bucket width.
func Bucketed(node, layout, label string, names ...string) Policy {
	width := time.Hour
	if layout == DayBucket {
		width = 24 * time.Hour
	}
	return Policy{Node: node, Kind: KindBucketed, derive: func(st any, now time.Time) ([]string, time.Duration) {
		var parts []string
		if len(names) == 0 {
			parts = []string{label}
		} else {
			parts = fields(st, names)
		}
		utc := now.UTC()
		parts = append(parts, utc.Format(layout))
		return parts, utc.Truncate(width).Add(width).Sub(utc)
	}}
}

// Conditional keys on the named fields plus a flag computed from state
// content. The flag also selects the TTL.
func Conditional(node string, flag func(st any, now time.Time) (string, bool), whenSet, otherwise time.Duration, names ...string) Policy {
	return Policy{Node: node, Kind: KindConditional, derive: func(st any, now time.Time) ([]string, time.Duration) {
		name, on := flag(st, now)
		parts := append(fields(st, names), name)
		if on {
			return parts, whenSet
		}
		return parts, otherwise
	}}
}

// Request keys on pure request identity.
func Request(node string, ttl time.Duration, names ...string) Policy {
	return Policy{Node: node, Kind: KindRequest, derive: func(st any, _ time.Time) ([]string, time.Duration) {
		return fields(st, names), ttl
	}}
}

// EarningsFlag builds the fundamental branch flag: imminent when the next
// earnings date is within window.
func EarningsFlag(window time.Duration) func(st any, now time.Time) (string, bool) {
	return func(st any, now time.Time) (string, bool) {
		if EarningsImminent(st, now, window) {
			return "earnings_imminent", true
		}
		return "earnings_distant", false
	}
}

// Policies maps every cached node to its policy.
type Policies map[string]Policy

// DefaultPolicies wires the node policies from configured TTLs.
func DefaultPolicies(ttl config.CacheTTLs) Policies {
	return Policies{
		consts.BranchIndustry.String(): Static(consts.BranchIndustry.String(), ttl.Industry.Std(), "", FieldIndustry),
		consts.BranchHeadline.String(): Static(consts.BranchHeadline.String(), ttl.Headline.Std(), "", FieldTicker),

		consts.BranchTechnical.String(): Bucketed(consts.BranchTechnical.String(), HourBucket, "", FieldTicker, FieldTradeDuration),
		consts.BranchMacro.String():     Bucketed(consts.BranchMacro.String(), DayBucket, "macro"),

		consts.BranchFundamental.String(): Conditional(consts.BranchFundamental.String(),
			EarningsFlag(ttl.EarningsWindow.Std()), ttl.FundamentalShort.Std(), ttl.FundamentalLong.Std(), FieldTicker),

		consts.BranchPeer.String():    Request(consts.BranchPeer.String(), ttl.Peer.Std(), FieldTicker),
		consts.BranchFilings.String(): Request(consts.BranchFilings.String(), ttl.Filings.Std(), FieldTicker, FieldTradeDuration, FieldTradeDirection),
		consts.FilingsQueries:         Request(consts.FilingsQueries, ttl.Filings.Std(), FieldTradeDuration, FieldTradeDirection, FieldTicker),
		consts.Validate:               Request(consts.Validate, ttl.Validation.Std(), FieldTicker),
	}
}

// For returns the policy for node.
func (p Policies) For(node string) (Policy, bool) {
	pol, ok := p[node]
	return pol, ok
}
