package cache

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

// Field names understood by key derivation. They match the JSON names of
// models.State so the map form of a state resolves the same way.
const (
	FieldTicker         = "ticker"
	FieldTradeDuration  = "trade_duration"
	FieldTradeDirection = "trade_direction"
	FieldIndustry       = "industry"
	FieldBusiness       = "business"
	FieldNextEarnings   = "next_earnings"
)

// Key is a fixed-length digest of "node|part|part...".
type Key struct {
	Raw    string
	Digest [32]byte
}

func (k Key) Bytes() []byte { return k.Digest[:] }

func (k Key) Hex() string { return hex.EncodeToString(k.Digest[:]) }

func (k Key) String() string { return k.Raw }

// NewKey joins the node name and parts and hashes the result.
func NewKey(node string, parts ...string) Key {
	raw := strings.Join(append([]string{node}, parts...), "|")
	return Key{Raw: raw, Digest: blake3.Sum256([]byte(raw))}
}

// view gives uniform field access over the three accepted state shapes.
type view interface {
	field(name string) (string, bool)
	nextEarnings() (time.Time, bool)
}

func viewOf(st any) view {
	switch v := st.(type) {
	case *models.State:
		if v == nil {
			return mapView(nil)
		}
		return stateView{v}
	case models.State:
		return stateView{&v}
	case map[string]any:
		return mapView(v)
	case nil:
		return mapView(nil)
	default:
		// Every field resolves to the unknown sentinel.
		l := logging.Component("cache")
		l.Warn().Str("type", fmt.Sprintf("%T", st)).Msg("unsupported state type for key derivation")
		return mapView(nil)
	}
}

// Field returns the named field of st or the unknown sentinel.
func Field(st any, name string) string {
	if v, ok := viewOf(st).field(name); ok && v != "" {
		return v
	}
	return consts.UnknownIdentity
}

type stateView struct{ s *models.State }

func (v stateView) field(name string) (string, bool) {
	switch name {
	case FieldTicker:
		return v.s.Ticker, v.s.Ticker != ""
	case FieldTradeDuration:
		return string(v.s.TradeDuration), v.s.TradeDuration != ""
	case FieldTradeDirection:
		return string(v.s.TradeDirection), v.s.TradeDirection != ""
	case FieldIndustry:
		return v.s.IndustryName(), v.s.Industry != nil
	case FieldBusiness:
		return v.s.BusinessName(), v.s.Business != nil
	}
	return "", false
}

func (v stateView) nextEarnings() (time.Time, bool) {
	if v.s.TickerInfo == nil || v.s.TickerInfo.NextEarnings == nil {
		return time.Time{}, false
	}
	return *v.s.TickerInfo.NextEarnings, true
}

type mapView map[string]any

func (m mapView) field(name string) (string, bool) {
	raw, ok := m[name]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func (m mapView) nextEarnings() (time.Time, bool) {
	info, ok := m["ticker_info"]
	if !ok || info == nil {
		return time.Time{}, false
	}
	var raw any
	switch v := info.(type) {
	case map[string]any:
		raw = v[FieldNextEarnings]
	case *models.TickerInfo:
		if v == nil || v.NextEarnings == nil {
			return time.Time{}, false
		}
		return *v.NextEarnings, true
	default:
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// EarningsImminent reports whether st carries a next earnings date within
// window of now.
func EarningsImminent(st any, now time.Time, window time.Duration) bool {
	ne, ok := viewOf(st).nextEarnings()
	if !ok {
		return false
	}
	until := ne.Sub(now)
	return until >= 0 && until <= window
}
