package wtlfu

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// manualTicker is a deterministic Ticker double, installed via
// Builder.Ticker in tests that need to control expiration without sleeping.
type manualTicker struct{ now atomic.Int64 }

func (t *manualTicker) Now() int64 { return t.now.Load() }
func (t *manualTicker) advance(d time.Duration) { t.now.Add(int64(d)) }

func newManualTicker() *manualTicker {
	t := &manualTicker{}
	t.now.Store(time.Now().UnixNano())
	return t
}

func TestCacheEvictsDownToCapacity(t *testing.T) {
	c, err := NewBuilder[string, int]().MaximumSize(2).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.CleanUp()

	present := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.GetIfPresent(k); ok {
			present++
		}
	}
	if present != 2 {
		t.Errorf("present = %d entries; want exactly 2", present)
	}
	if got := c.EstimatedSize(); got != 2 {
		t.Errorf("EstimatedSize() = %d; want 2", got)
	}
}

func TestCacheHitsAndMissesRecorded(t *testing.T) {
	c, err := NewBuilder[string, string]().MaximumSize(100).RecordStats().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	c.Put("k", "v")
	if v, ok := c.GetIfPresent("k"); !ok || v != "v" {
		t.Errorf("GetIfPresent(k) = %q, %v; want v, true", v, ok)
	}
	if _, ok := c.GetIfPresent("x"); ok {
		t.Error("GetIfPresent(x) should miss")
	}

	snap := c.Stats()
	if snap.Hits != 1 || snap.Misses != 1 {
		t.Errorf("stats = %+v; want hits=1 misses=1", snap)
	}
}

func TestCacheExpireAfterWrite(t *testing.T) {
	ticker := newManualTicker()
	var removed []RemovalCause
	c, err := NewBuilder[string, string]().
		MaximumSize(100).
		ExpireAfterWrite(60 * time.Second).
		Ticker(ticker).
		Executor(func(task func()) { task() }).
		RemovalListener(func(_ string, _ string, cause RemovalCause) { removed = append(removed, cause) }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	c.Put("k", "v")

	ticker.advance(59 * time.Second)
	if v, ok := c.GetIfPresent("k"); !ok || v != "v" {
		t.Errorf("GetIfPresent(k) at 59s = %q, %v; want v, true", v, ok)
	}

	ticker.advance(2 * time.Second)
	if _, ok := c.GetIfPresent("k"); ok {
		t.Error("GetIfPresent(k) at 61s should miss")
	}
	c.CleanUp()

	if len(removed) != 1 || removed[0] != CauseExpired {
		t.Errorf("removal causes = %v; want exactly one CauseExpired", removed)
	}
}

func TestCachePutThenGetRoundTrips(t *testing.T) {
	c, err := NewBuilder[int, string]().MaximumSize(1000).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 100; i++ {
		c.Put(i, "v")
		if v, ok := c.GetIfPresent(i); !ok || v != "v" {
			t.Fatalf("round trip failed for key %d: %q, %v", i, v, ok)
		}
	}
}

func TestCacheInvalidateIsIdempotent(t *testing.T) {
	c, err := NewBuilder[string, int]().MaximumSize(10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c.Put("k", 1)
	c.Invalidate("k")
	c.Invalidate("k") // must not panic or double-notify

	if _, ok := c.GetIfPresent("k"); ok {
		t.Error("k should be gone after Invalidate")
	}
}

func TestCacheRefreshRoundTrips(t *testing.T) {
	var gen atomic.Int64
	c, err := NewBuilder[string, int64]().
		MaximumSize(10).
		Loader(func(string) (int64, error) { return gen.Add(1), nil }).
		RefreshAfterWrite(time.Hour).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	first, err := c.GetOrLoad("k")
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if err := c.Refresh("k"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	second, ok := c.GetIfPresent("k")
	if !ok {
		t.Fatal("k missing after Refresh")
	}
	if second <= first {
		t.Errorf("Refresh did not advance the value: first=%d second=%d", first, second)
	}
}

func TestComputeIfAbsentCallsMappingOnceOnMiss(t *testing.T) {
	var calls atomic.Int32
	c, err := NewBuilder[string, int]().MaximumSize(10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	mapping := func(string) (int, error) {
		calls.Add(1)
		return 7, nil
	}

	v, err := c.ComputeIfAbsent("k", mapping)
	if err != nil || v != 7 {
		t.Fatalf("ComputeIfAbsent = %d, %v; want 7, nil", v, err)
	}
	v2, err := c.ComputeIfAbsent("k", mapping)
	if err != nil || v2 != 7 {
		t.Fatalf("second ComputeIfAbsent = %d, %v; want 7, nil", v2, err)
	}
	if calls.Load() != 1 {
		t.Errorf("mappingFn called %d times; want exactly 1", calls.Load())
	}
}

func TestComputeIfAbsentPropagatesError(t *testing.T) {
	c, err := NewBuilder[string, int]().MaximumSize(10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wantErr := errors.New("boom")
	_, err = c.ComputeIfAbsent("k", func(string) (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v; want %v", err, wantErr)
	}
	if _, ok := c.GetIfPresent("k"); ok {
		t.Error("a failed mappingFn must not insert a value")
	}
}

func TestBuilderRejectsContradictoryConfiguration(t *testing.T) {
	_, err := NewBuilder[string, int]().Build()
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("err = %v; want ErrInvalidConfiguration (no maximum set)", err)
	}

	_, err = NewBuilder[string, int]().MaximumSize(10).MaximumWeight(10).Weigher(func(string, int) int { return 1 }).Build()
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("err = %v; want ErrInvalidConfiguration (mutually exclusive bounds)", err)
	}
}

func TestPutRejectsNilValue(t *testing.T) {
	c, err := NewBuilder[string, *int]().MaximumSize(10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := c.Put("k", nil); !errors.Is(err, ErrNullInput) {
		t.Errorf("Put(k, nil) = %v; want ErrNullInput", err)
	}
	if _, ok := c.GetIfPresent("k"); ok {
		t.Error("a rejected nil value must not be inserted")
	}
}

func TestCacheInsertIsReachableFromEdenAfterPut(t *testing.T) {
	// Regression test for a bug where a fresh insert never reached any
	// access-order deque, so eviction never triggered and EstimatedSize
	// never grew past zero.
	c, err := NewBuilder[string, int]().MaximumSize(10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c.Put("k", 1)
	if got := c.EstimatedSize(); got != 1 {
		t.Errorf("EstimatedSize() after one insert = %d; want 1", got)
	}
}

func TestPutReplaceWithIdenticalValueSuppressesRemovalNotification(t *testing.T) {
	var removed []RemovalCause
	c, err := NewBuilder[string, string]().
		MaximumSize(10).
		Executor(func(task func()) { task() }).
		RemovalListener(func(_ string, _ string, cause RemovalCause) { removed = append(removed, cause) }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	c.Put("k", "v")
	c.Put("k", "v") // identical value: must not fire CauseReplaced
	if len(removed) != 0 {
		t.Errorf("removal causes after an identity replace = %v; want none", removed)
	}

	c.Put("k", "v2") // distinct value: must fire CauseReplaced
	if len(removed) != 1 || removed[0] != CauseReplaced {
		t.Errorf("removal causes after a real replace = %v; want exactly one CauseReplaced", removed)
	}
}
