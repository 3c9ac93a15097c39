package wtlfu

import "time"

// featureBitmap packs the boolean knobs the constructed Cache branches on at
// runtime (spec.md §9: "collapse into a single concrete cache parameterized
// by a feature bitmap decided at construction... unused arms are dead code").
type featureBitmap uint16

const (
	featWeighted featureBitmap = 1 << iota
	featExpireAfterWrite
	featExpireAfterAccess
	featExpireVariable
	featRefreshAfterWrite
	featRemovalListener
	featCacheWriter
	featStats
)

func (f featureBitmap) has(bit featureBitmap) bool { return f&bit != 0 }

// config holds every value a Builder can set, collapsed into the Cache at
// Build time.
//
// grounded: teacher's Options/Option function-option pattern (options.go),
// extended with a validate() step the teacher does not need since it has
// far fewer mutually exclusive knobs.
type config[K comparable, V any] struct {
	maximumSize       int64
	maximumWeight     int64
	weigher           Weigher[K, V]
	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	expiry            Expiry[K, V]
	refreshAfterWrite time.Duration
	removalListener   RemovalListener[K, V]
	writer            CacheWriter[K, V]
	loader            Loader[K, V]
	reloader          Reloader[K, V]
	statsEnabled      bool
	ticker            Ticker
	initialCapacity   int
	executor          func(func())
}

// Builder assembles a Cache through chained setter methods, each recording
// one option and returning the Builder; Build validates the collected
// configuration.
type Builder[K comparable, V any] struct {
	cfg config[K, V]
}

// NewBuilder returns a Builder with no bound set; Build fails with
// ErrInvalidConfiguration unless MaximumSize or MaximumWeight is called.
func NewBuilder[K comparable, V any]() *Builder[K, V] {
	return &Builder[K, V]{}
}

func (b *Builder[K, V]) MaximumSize(n int64) *Builder[K, V] {
	b.cfg.maximumSize = n
	return b
}

func (b *Builder[K, V]) MaximumWeight(w int64) *Builder[K, V] {
	b.cfg.maximumWeight = w
	return b
}

func (b *Builder[K, V]) Weigher(fn Weigher[K, V]) *Builder[K, V] {
	b.cfg.weigher = fn
	return b
}

func (b *Builder[K, V]) ExpireAfterWrite(d time.Duration) *Builder[K, V] {
	b.cfg.expireAfterWrite = d
	return b
}

func (b *Builder[K, V]) ExpireAfterAccess(d time.Duration) *Builder[K, V] {
	b.cfg.expireAfterAccess = d
	return b
}

func (b *Builder[K, V]) ExpireAfter(e Expiry[K, V]) *Builder[K, V] {
	b.cfg.expiry = e
	return b
}

func (b *Builder[K, V]) RefreshAfterWrite(d time.Duration) *Builder[K, V] {
	b.cfg.refreshAfterWrite = d
	return b
}

func (b *Builder[K, V]) RemovalListener(fn RemovalListener[K, V]) *Builder[K, V] {
	b.cfg.removalListener = fn
	return b
}

func (b *Builder[K, V]) CacheWriter(w CacheWriter[K, V]) *Builder[K, V] {
	b.cfg.writer = w
	return b
}

// Loader installs the function GetOrLoad calls on a miss and, when
// RefreshAfterWrite is also set, the function an automatic background
// refresh calls to recompute a stale-but-present value. A bare Loader is
// reused as its own Reloader unless WithReloader overrides it.
func (b *Builder[K, V]) Loader(fn Loader[K, V]) *Builder[K, V] {
	b.cfg.loader = fn
	return b
}

// WithReloader overrides the function refresh-after-write uses to recompute
// a value, letting it take the current value into account (e.g. a
// conditional GET). Ignored if Loader was never set.
func (b *Builder[K, V]) WithReloader(fn Reloader[K, V]) *Builder[K, V] {
	b.cfg.reloader = fn
	return b
}

func (b *Builder[K, V]) RecordStats() *Builder[K, V] {
	b.cfg.statsEnabled = true
	return b
}

func (b *Builder[K, V]) Ticker(t Ticker) *Builder[K, V] {
	b.cfg.ticker = t
	return b
}

func (b *Builder[K, V]) InitialCapacity(n int) *Builder[K, V] {
	b.cfg.initialCapacity = n
	return b
}

// Executor installs the run(task) capability async refreshes and removal
// notifications are dispatched through (spec.md §9: "Ambient executor for
// async tasks: represent as an injected run(task) capability... tests
// inject a synchronous executor"). Default is a detached goroutine per task.
func (b *Builder[K, V]) Executor(run func(func())) *Builder[K, V] {
	b.cfg.executor = run
	return b
}

// validate enforces the builder contradictions spec.md §7 names under
// ErrInvalidConfiguration. strictParsing from the source is not surfaced as
// a toggle at all (spec.md §9 Open Question: "treat it as always true").
func (c *config[K, V]) validate() error {
	if c.maximumSize > 0 && c.maximumWeight > 0 {
		return configError("maximumSize and maximumWeight are mutually exclusive")
	}
	if c.maximumSize <= 0 && c.maximumWeight <= 0 {
		return configError("one of maximumSize or maximumWeight is required")
	}
	if c.maximumWeight > 0 && c.weigher == nil {
		return configError("maximumWeight requires a weigher")
	}
	if c.maximumSize > 0 && c.weigher != nil {
		return configError("a weigher requires maximumWeight, not maximumSize")
	}
	if c.expiry != nil && (c.expireAfterWrite > 0 || c.expireAfterAccess > 0) {
		return configError("expireAfter is mutually exclusive with expireAfterWrite/expireAfterAccess")
	}
	if c.refreshAfterWrite > 0 && c.expireAfterWrite > 0 && c.refreshAfterWrite >= c.expireAfterWrite {
		return configError("refreshAfterWrite must be shorter than expireAfterWrite")
	}
	if c.refreshAfterWrite > 0 && c.loader == nil {
		return configError("refreshAfterWrite requires a loader")
	}
	return nil
}

func (c *config[K, V]) features() featureBitmap {
	var f featureBitmap
	if c.maximumWeight > 0 {
		f |= featWeighted
	}
	if c.expireAfterWrite > 0 {
		f |= featExpireAfterWrite
	}
	if c.expireAfterAccess > 0 {
		f |= featExpireAfterAccess
	}
	if c.expiry != nil {
		f |= featExpireVariable
	}
	if c.refreshAfterWrite > 0 {
		f |= featRefreshAfterWrite
	}
	if c.removalListener != nil {
		f |= featRemovalListener
	}
	if c.writer != nil {
		f |= featCacheWriter
	}
	if c.statsEnabled {
		f |= featStats
	}
	return f
}

// Build validates the configuration and constructs the Cache.
func (b *Builder[K, V]) Build() (*Cache[K, V], error) {
	if err := b.cfg.validate(); err != nil {
		return nil, err
	}
	return newCache[K, V](b.cfg), nil
}
