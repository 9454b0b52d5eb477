package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type payload struct {
	Text   string
	Tokens int
}

func testState(ticker string) *models.State {
	s := models.NewState(models.Identity{Ticker: ticker, TradeDuration: consts.DurationMedium, TradeDirection: consts.DirectionLong})
	industry := "Semiconductors"
	s.Industry = &industry
	return s
}

func counter(calls *atomic.Int32, text string) func(context.Context) (payload, error) {
	return func(context.Context) (payload, error) {
		calls.Add(1)
		return payload{Text: text, Tokens: 12}, nil
	}
}

func TestDoHitThenExpire(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	c := New(NewMemoryBackend(16), WithClock(clock))
	ctx := context.Background()
	st := testState("NVDA")
	var calls atomic.Int32

	v, hit, err := Do(ctx, c, consts.BranchPeer.String(), st, counter(&calls, "peers"))
	if err != nil || hit || v.Text != "peers" {
		t.Fatalf("first call: v=%+v hit=%v err=%v", v, hit, err)
	}
	v, hit, err = Do(ctx, c, consts.BranchPeer.String(), st, counter(&calls, "other"))
	if err != nil || !hit || v.Text != "peers" || v.Tokens != 12 {
		t.Fatalf("second call should hit the stored value: v=%+v hit=%v err=%v", v, hit, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 compute, got %d", calls.Load())
	}

	clock.Advance(6*time.Hour + time.Second)
	v, hit, _ = Do(ctx, c, consts.BranchPeer.String(), st, counter(&calls, "fresh"))
	if hit || v.Text != "fresh" {
		t.Fatalf("expired entry served: v=%+v hit=%v", v, hit)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected recompute after expiry, got %d computes", calls.Load())
	}

	stats := c.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 2 || stats.Nodes["peer"].Hits != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDoErrorsAreNotCached(t *testing.T) {
	c := New(NewMemoryBackend(16), WithClock(newFakeClock(time.Now())))
	ctx := context.Background()
	st := testState("AMD")

	_, _, err := Do(ctx, c, consts.BranchHeadline.String(), st, func(context.Context) (payload, error) {
		return payload{}, errors.New("provider down")
	})
	if err == nil {
		t.Fatalf("expected compute error to surface")
	}
	var calls atomic.Int32
	_, hit, err := Do(ctx, c, consts.BranchHeadline.String(), st, counter(&calls, "news"))
	if err != nil || hit || calls.Load() != 1 {
		t.Fatalf("failure must not be cached: hit=%v err=%v calls=%d", hit, err, calls.Load())
	}
}

func TestTimeBucketBoundary(t *testing.T) {
	policies := DefaultPolicies(config.DefaultConfigWithRoot(t.TempDir()).CacheTTL)
	technical, _ := policies.For(consts.BranchTechnical.String())
	macro, _ := policies.For(consts.BranchMacro.String())
	st := testState("TSLA")

	before := time.Date(2026, 5, 4, 13, 59, 59, 0, time.UTC)
	after := before.Add(2 * time.Second)

	k1, ttl1 := technical.Resolve(st, before)
	k2, _ := technical.Resolve(st, after)
	if k1.Digest == k2.Digest {
		t.Fatalf("hour boundary should change the technical key: %s", k1.Raw)
	}
	if !strings.HasSuffix(k1.Raw, "2026-05-04T13") || !strings.HasSuffix(k2.Raw, "2026-05-04T14") {
		t.Fatalf("unexpected bucket keys %q %q", k1.Raw, k2.Raw)
	}
	if ttl1 != time.Second {
		t.Fatalf("entry should live until the bucket rolls over, ttl=%v", ttl1)
	}

	m1, _ := macro.Resolve(st, before)
	m2, _ := macro.Resolve(testState("AAPL"), after)
	if m1.Digest != m2.Digest {
		t.Fatalf("macro key must not depend on ticker within a day: %q vs %q", m1.Raw, m2.Raw)
	}
	m3, _ := macro.Resolve(st, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC))
	if m3.Digest == m1.Digest {
		t.Fatalf("day boundary should change the macro key")
	}

	local := time.FixedZone("UTC+8", 8*3600)
	k3, _ := technical.Resolve(st, time.Date(2026, 5, 4, 21, 30, 0, 0, local))
	if !strings.HasSuffix(k3.Raw, "2026-05-04T13") {
		t.Fatalf("bucket must be computed in UTC, got %q", k3.Raw)
	}
}

func TestContentConditionalKey(t *testing.T) {
	ttl := config.DefaultConfigWithRoot(t.TempDir()).CacheTTL
	policy, _ := DefaultPolicies(ttl).For(consts.BranchFundamental.String())
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	soon := now.Add(48 * time.Hour)
	later := now.Add(40 * 24 * time.Hour)

	imminent := testState("MSFT")
	imminent.TickerInfo = &models.TickerInfo{Symbol: "MSFT", NextEarnings: &soon}
	distant := testState("MSFT")
	distant.TickerInfo = &models.TickerInfo{Symbol: "MSFT", NextEarnings: &later}
	missing := testState("MSFT")

	k1, ttl1 := policy.Resolve(imminent, now)
	k2, ttl2 := policy.Resolve(distant, now)
	k3, ttl3 := policy.Resolve(missing, now)

	if k1.Digest == k2.Digest {
		t.Fatalf("earnings flag must change the key")
	}
	if k2.Digest != k3.Digest {
		t.Fatalf("missing earnings date should match the distant key")
	}
	if ttl1 != time.Hour || ttl2 != 24*time.Hour || ttl3 != 24*time.Hour {
		t.Fatalf("unexpected ttls %v %v %v", ttl1, ttl2, ttl3)
	}
}

func TestKeyDerivationAcceptsMapForm(t *testing.T) {
	policies := DefaultPolicies(config.DefaultConfigWithRoot(t.TempDir()).CacheTTL)
	filings, _ := policies.For(consts.BranchFilings.String())
	now := time.Now()

	st := testState("AAPL")
	fromState, _ := filings.Resolve(st, now)
	fromValue, _ := filings.Resolve(*st, now)
	fromMap, _ := filings.Resolve(map[string]any{
		"ticker":          "AAPL",
		"trade_duration":  consts.DurationMedium,
		"trade_direction": "long",
	}, now)
	if fromState.Digest != fromValue.Digest || fromState.Digest != fromMap.Digest {
		t.Fatalf("state shapes disagree: %q %q %q", fromState.Raw, fromValue.Raw, fromMap.Raw)
	}

	partial, _ := filings.Resolve(map[string]any{"ticker": "AAPL"}, now)
	if want := "filings|AAPL|_unknown_|_unknown_"; partial.Raw != want {
		t.Fatalf("missing fields should use the sentinel: got %q want %q", partial.Raw, want)
	}

	industry, _ := policies.For(consts.BranchIndustry.String())
	noIndustry, _ := industry.Resolve(models.NewState(models.Identity{Ticker: "AAPL"}), now)
	if noIndustry.Raw != "industry|_unknown_" {
		t.Fatalf("nil industry should use the sentinel, got %q", noIndustry.Raw)
	}

	soon := now.Add(time.Hour).Format(time.RFC3339)
	if !EarningsImminent(map[string]any{"ticker_info": map[string]any{"next_earnings": soon}}, now, 24*time.Hour) {
		t.Fatalf("map form should expose ticker_info.next_earnings")
	}
}

func TestKeyDerivationUnsupportedStateUsesSentinel(t *testing.T) {
	policies := DefaultPolicies(config.DefaultConfigWithRoot(t.TempDir()).CacheTTL)
	filings, _ := policies.For(consts.BranchFilings.String())

	key, _ := filings.Resolve(struct{ Ticker string }{"AAPL"}, time.Now())
	if want := "filings|_unknown_|_unknown_|_unknown_"; key.Raw != want {
		t.Fatalf("got %q want %q", key.Raw, want)
	}
	if got := Field(42, FieldTicker); got != consts.UnknownIdentity {
		t.Fatalf("Field on int = %q", got)
	}
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) Get(context.Context, []byte) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingBackend) Set(context.Context, []byte, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestBackendErrorsAreMisses(t *testing.T) {
	c := New(failingBackend{NewMemoryBackend(4)}, WithClock(newFakeClock(time.Now())))
	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		v, hit, err := Do(context.Background(), c, consts.BranchPeer.String(), testState("IBM"), counter(&calls, "peers"))
		if err != nil || hit || v.Text != "peers" {
			t.Fatalf("backend errors must not surface: v=%+v hit=%v err=%v", v, hit, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected compute on every call, got %d", calls.Load())
	}
	if c.Stats(context.Background()).Errors != 4 {
		t.Fatalf("expected 4 logged backend errors, got %d", c.Stats(context.Background()).Errors)
	}
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c := New(NewMemoryBackend(16), WithClock(newFakeClock(time.Now())))
	st := testState("ORCL")
	release := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]payload, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := Do(context.Background(), c, consts.BranchPeer.String(), st, func(context.Context) (payload, error) {
				calls.Add(1)
				<-release
				return payload{Text: "shared"}, nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected a single compute, got %d", calls.Load())
	}
	for i, r := range results {
		if r.Text != "shared" {
			t.Fatalf("caller %d saw %+v", i, r)
		}
	}
}

func TestCancelledCallerDoesNotFailSharedCompute(t *testing.T) {
	c := New(NewMemoryBackend(16), WithClock(newFakeClock(time.Now())))
	st := testState("NFLX")
	node := consts.BranchPeer.String()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (payload, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return payload{Text: "peers"}, nil
		case <-ctx.Done():
			return payload{}, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := Do(firstCtx, c, node, st, compute)
		firstErr <- err
	}()
	<-started

	second := make(chan payload, 1)
	go func() {
		v, _, err := Do(context.Background(), c, node, st, compute)
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want context.Canceled", err)
	}
	close(release)

	if v := <-second; v.Text != "peers" {
		t.Fatalf("second caller got %+v", v)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one compute, got %d", calls.Load())
	}
	if v, hit, _ := Do(context.Background(), c, node, st, compute); !hit || v.Text != "peers" {
		t.Fatalf("shared result should be cached: %+v hit=%v", v, hit)
	}
}

func TestComputePanicBecomesError(t *testing.T) {
	c := New(NewMemoryBackend(4))
	_, _, err := Do(context.Background(), c, consts.BranchPeer.String(), testState("X"), func(context.Context) (payload, error) {
		panic("boom")
	})
	if !errors.Is(err, ErrComputePanic) {
		t.Fatalf("expected ErrComputePanic, got %v", err)
	}
}

func TestUnknownNodeAndNilCacheCompute(t *testing.T) {
	var calls atomic.Int32
	var nilCache *Cache
	if _, hit, _ := Do(context.Background(), nilCache, "peer", testState("X"), counter(&calls, "a")); hit {
		t.Fatalf("nil cache cannot hit")
	}
	c := New(NewMemoryBackend(4))
	Do(context.Background(), c, "aggregate", testState("X"), counter(&calls, "a"))
	Do(context.Background(), c, "aggregate", testState("X"), counter(&calls, "a"))
	if calls.Load() != 3 {
		t.Fatalf("uncached nodes must always compute, got %d", calls.Load())
	}
}

func TestMemoryBackendEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(2)
	_ = m.Set(ctx, []byte("a"), []byte("1"), time.Minute)
	_ = m.Set(ctx, []byte("b"), []byte("2"), time.Minute)
	if _, ok, _ := m.Get(ctx, []byte("a")); !ok {
		t.Fatalf("a should be present")
	}
	_ = m.Set(ctx, []byte("c"), []byte("3"), time.Minute)

	if _, ok, _ := m.Get(ctx, []byte("b")); ok {
		t.Fatalf("b should have been evicted")
	}
	if n, _ := m.Len(ctx); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	_ = m.Set(ctx, []byte("c"), []byte("4"), time.Minute)
	if v, _, _ := m.Get(ctx, []byte("c")); string(v) != "4" {
		t.Fatalf("overwrite lost: %q", v)
	}
	_ = m.Delete(ctx, []byte("a"))
	if n, _ := m.Len(ctx); n != 1 {
		t.Fatalf("expected 1 entry after delete, got %d", n)
	}
}
