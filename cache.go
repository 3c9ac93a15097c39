package wtlfu

import (
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a bounded, concurrent, in-process cache combining Window-TinyLFU
// admission with segmented-LRU eviction (spec.md §1-§2). Build one with
// NewBuilder; the zero value is not usable.
//
// grounded: teacher's s3fifo[K,V] (s3fifo.go) for the overall shape (hasher,
// node store, buffered writes drained by a single maintenance path); the
// segmented-LRU/TinyLFU policy state itself (sketch, three access deques,
// write deque, timer wheel) replaces the teacher's small/main/ghost FIFO
// queues and bloom-filter ghost cache, since this is a different admission
// policy built on the same concurrency skeleton.
type Cache[K comparable, V any] struct {
	store  *nodeStore[K, V]
	hasher func(K) uint64

	sketch                        *frequencySketch
	eden, probation, protected    accessDeque[K, V]
	writeOrder                    writeDeque[K, V]
	wheel                         *timerWheel[K, V]

	readBuf  *readBuffer[K, V]
	writeBuf *writeBuffer[K, V]
	drain    drainStatus

	evictionMu sync.Mutex // the single logical eviction lock (spec.md §5)

	maximum      atomic.Int64
	weightedSize atomic.Int64

	edenTarget, protectedTarget, probationTarget int64 // evictionMu-owned

	features          featureBitmap
	weigher           Weigher[K, V]
	expireAfterWriteNS  int64
	expireAfterAccessNS int64
	expiry              Expiry[K, V]
	refreshAfterWriteNS int64
	removalListener     RemovalListener[K, V]
	writer              CacheWriter[K, V]
	loader              Loader[K, V]
	reloader            Reloader[K, V]

	stats    StatsCounter
	ticker   Ticker
	executor func(func())
	logger   *slog.Logger

	rngState atomic.Uint64 // xorshift64 state for sketch seeding and the 1/128 admit coin

	scratchExpired []*Node[K, V] // evictionMu-owned reusable slice for wheel.advance
}

const defaultWriteBufferCapacity = 128 * writeChunkSize

// newCache wires every collaborator (C1-C12) from a validated config.
func newCache[K comparable, V any](cfg config[K, V]) *Cache[K, V] {
	maximum := cfg.maximumSize
	if cfg.maximumWeight > 0 {
		maximum = cfg.maximumWeight
	}

	c := &Cache[K, V]{
		store:               newNodeStore[K, V](cfg.initialCapacity),
		hasher:               buildHasher[K](),
		sketch:               newFrequencySketch(),
		wheel:                newTimerWheel[K, V](),
		readBuf:              newReadBuffer[K, V](),
		writeBuf:             newWriteBuffer[K, V](defaultWriteBufferCapacity),
		features:             cfg.features(),
		weigher:              cfg.weigher,
		expireAfterWriteNS:   int64(cfg.expireAfterWrite),
		expireAfterAccessNS:  int64(cfg.expireAfterAccess),
		expiry:               cfg.expiry,
		refreshAfterWriteNS:  int64(cfg.refreshAfterWrite),
		removalListener:      cfg.removalListener,
		loader:               cfg.loader,
		reloader:             cfg.reloader,
		ticker:               cfg.ticker,
		executor:             cfg.executor,
		logger:               slog.Default().With("component", "wtlfu"),
	}
	c.maximum.Store(maximum)

	if cfg.writer != nil {
		c.writer = cfg.writer
	} else {
		c.writer = disabledCacheWriter[K, V]{}
	}
	if cfg.statsEnabled {
		c.stats = newAtomicStatsCounter()
	} else {
		c.stats = noopStatsCounter{}
	}
	if c.ticker == nil {
		c.ticker = systemTicker{}
	}
	if c.executor == nil {
		c.executor = func(task func()) { go task() }
	}

	c.rngState.Store(uint64(c.ticker.Now())*0x9E3779B97F4A7C15 + 1)
	c.sketch.ensureCapacity(clampInt(maximum), c.rnd)
	c.recomputeTargets()
	return c
}

func clampInt(n int64) int {
	if n <= 0 {
		return 1
	}
	if n > int64(^uint(0)>>1) {
		return int(^uint(0) >> 1)
	}
	return int(n)
}

// rnd is a xorshift64* PRNG (spec.md §9: "any fast non-cryptographic source
// is acceptable"), used only for the 1/128 admission coin flip and sketch
// reseeding, never for policy-critical correctness.
func (c *Cache[K, V]) rnd() uint64 {
	x := c.rngState.Load()
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	c.rngState.Store(x)
	return x * 0x2545F4914F6CDD1D
}

func (c *Cache[K, V]) now() int64 { return c.ticker.Now() }

// valuesEqual reports whether a replacement actually changes the stored
// value. V is unconstrained (not comparable), so reflect.DeepEqual is the
// only generic equality available; used to suppress a spurious CauseReplaced
// notification when a write (e.g. a no-op refresh) round-trips the same
// value (spec.md §4.7/§8: "refresh with an identity loader... produces no
// removal notification").
func valuesEqual[V any](a, b V) bool {
	return reflect.DeepEqual(a, b)
}

// isNilValue reports whether v is nil, for the nilable kinds where that's
// observable (pointer, interface, map, chan, func, slice) - including the
// case where T itself is an interface type (e.g. V = any) and v is the nil
// interface value, which reflect.ValueOf reports as an invalid Value rather
// than a nil Ptr/Map/etc. Non-nilable kinds (int, struct, ...) are never nil.
func isNilValue[T any](v T) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

func (c *Cache[K, V]) logWarn(msg string, key K, err error) {
	c.logger.Warn(msg, "key", key, "error", err)
}

// weightOf computes a node's configured weight, clamped to non-negative
// (spec.md §6: "a weigher returning a negative value is a configuration
// error surfaced... clamp to 0 and log").
func (c *Cache[K, V]) weightOf(key K, value V) int32 {
	if !c.features.has(featWeighted) {
		return 1
	}
	w := c.weigher(key, value)
	if w < 0 {
		c.logger.Warn("weigher returned negative weight, clamping to 0", "key", key)
		return 0
	}
	return int32(w)
}

// isExpiredNow reports whether n is already past any of its configured
// expiration deadlines as of now, independent of whether maintenance has
// gotten around to evicting it yet (spec.md §4.6: reads never return an
// entry past its deadline even if eviction is lazy).
func (c *Cache[K, V]) isExpiredNow(n *Node[K, V], now int64) bool {
	if c.features.has(featExpireVariable) && n.variableTime > 0 && n.variableTime <= now {
		return true
	}
	if c.features.has(featExpireAfterWrite) && now-n.writeTime > c.expireAfterWriteNS {
		return true
	}
	if c.features.has(featExpireAfterAccess) && now-n.accessTime.Load() > c.expireAfterAccessNS {
		return true
	}
	return false
}

// recordRead publishes an access event to C2 and eagerly schedules
// maintenance if the stripe it landed in reports full (spec.md §4.2/§5).
func (c *Cache[K, V]) recordRead(hash uint64, n *Node[K, V]) {
	status := c.readBuf.offer(spread(hash), n)
	if status == bufFull {
		c.drain.scheduleIfNeeded(func() { c.performMaintenance(c.now()) })
	}
}

// recordWrite publishes a mutation to C3 and always schedules maintenance:
// writes must never be silently dropped, so a full buffer runs maintenance
// on the caller's own goroutine instead (spec.md §4.3/§5).
func (c *Cache[K, V]) recordWrite(task writeTask[K, V]) {
	for !c.writeBuf.enqueue(task) {
		c.performMaintenance(c.now())
	}
	c.drain.scheduleIfNeeded(func() { c.performMaintenance(c.now()) })
}

// GetIfPresent returns the current value for key without invoking any
// loader, reporting ok=false on a miss or on an entry already past its
// expiration deadline (spec.md §4.4).
func (c *Cache[K, V]) GetIfPresent(key K) (value V, ok bool) {
	hash := c.hasher(key)
	n, found := c.store.load(key)
	now := c.now()
	if !found || !n.isAlive() || c.isExpiredNow(n, now) {
		c.stats.RecordMisses(1)
		return value, false
	}

	n.nodeMu.Lock()
	value = n.value
	n.nodeMu.Unlock()
	n.accessTime.Store(now)

	c.recordRead(hash, n)
	c.stats.RecordHits(1)
	c.maybeScheduleRefresh(key, n, now)
	return value, true
}

// Get returns the value for key, computing and inserting it via mappingFn
// if absent (spec.md §4.4 get(key, mappingFn)). The compute is not atomic:
// concurrent callers that miss the same key may each run mappingFn; the
// first value inserted is kept, and later results are discarded.
func (c *Cache[K, V]) Get(key K, mappingFn func(K) (V, error)) (V, error) {
	if v, ok := c.GetIfPresent(key); ok {
		return v, nil
	}
	return c.ComputeIfAbsent(key, mappingFn)
}

// GetOrLoad is Get using the Loader configured on the Builder.
func (c *Cache[K, V]) GetOrLoad(key K) (V, error) {
	if c.loader == nil {
		var zero V
		return zero, configError("GetOrLoad requires a loader configured on the Builder")
	}
	start := c.now()
	v, err := c.Get(key, c.loader)
	if c.features.has(featStats) {
		if err != nil {
			c.stats.RecordLoadFailure(c.now() - start)
		} else {
			c.stats.RecordLoadSuccess(c.now() - start)
		}
	}
	return v, err
}

// GetAll returns the entries for keys present in the cache, loading the
// remainder in a single bulkMappingFn call (spec.md SPEC_FULL §4.9), or, when
// bulkMappingFn is nil, one key at a time through the Loader configured on
// the Builder (stopping at the first load error). Keys bulkMappingFn omits
// from its result are silently absent from the return value, matching the
// documented "partial results are not an error" contract.
func (c *Cache[K, V]) GetAll(keys []K, bulkMappingFn func([]K) (map[K]V, error)) (map[K]V, error) {
	result := make(map[K]V, len(keys))
	var missing []K
	for _, key := range keys {
		if v, ok := c.GetIfPresent(key); ok {
			result[key] = v
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}
	if bulkMappingFn == nil {
		for _, key := range missing {
			v, err := c.GetOrLoad(key)
			if err != nil {
				return result, err
			}
			result[key] = v
		}
		return result, nil
	}

	loaded, err := callProtected(func() (map[K]V, error) { return bulkMappingFn(missing) })
	if err != nil {
		return result, err
	}
	for k, v := range loaded {
		if err := c.Put(k, v); err != nil {
			c.logWarn("bulkMappingFn produced an invalid entry, skipping", k, err)
			continue
		}
		result[k] = v
	}
	return result, nil
}

// Put inserts or replaces the value for key (spec.md §4.4 put). An existing
// live node has its value and weight replaced in place under its own
// monitor; a replacement with a value that differs (reflect.DeepEqual) from
// the old one notifies RemovalListener with CauseReplaced.
// Returns ErrNullInput, without mutating the cache, if key or value is nil
// (spec.md §7: "NullInput... fatal to operation, surfaces to caller").
func (c *Cache[K, V]) Put(key K, value V) error {
	return c.put(key, value, false)
}

func (c *Cache[K, V]) put(key K, value V, onlyIfAbsent bool) error {
	if isNilValue(key) || isNilValue(value) {
		return ErrNullInput
	}

	hash := c.hasher(key)
	now := c.now()
	weight := c.weightOf(key, value)

	for {
		existing, loaded := c.store.load(key)
		if !loaded {
			n := newNode[K, V](key, value, hash, weight, now)
			c.setVariableDeadline(n, now, 0, false)
			stored, alreadyLoaded := c.store.computeIfAbsent(key, func() *Node[K, V] { return n })
			if alreadyLoaded {
				existing = stored
			} else {
				c.notifyWriter(key, value)
				c.recordWrite(writeTask[K, V]{kind: taskAdd, node: n})
				return nil
			}
		}
		if onlyIfAbsent {
			return nil
		}

		existing.nodeMu.Lock()
		if !existing.isAlive() {
			existing.nodeMu.Unlock()
			continue // raced with a concurrent eviction/removal; retry the insert
		}
		oldValue, oldWeight := existing.value, existing.weight
		existing.value = value
		existing.weight = weight
		existing.writeTime = now
		c.setVariableDeadline(existing, now, existing.variableTime, true)
		existing.nodeMu.Unlock()

		c.notifyWriter(key, value)
		c.recordWrite(writeTask[K, V]{kind: taskUpdate, node: existing, weightDiff: weight - oldWeight})
		if c.features.has(featRemovalListener) && !valuesEqual(oldValue, value) {
			listener, executor := c.removalListener, c.executor
			executor(func() {
				callProtectedVoid(
					func(err error) { c.logWarn("removalListener panicked", key, err) },
					func() { listener(key, oldValue, CauseReplaced) },
				)
			})
		}
		return nil
	}
}

func (c *Cache[K, V]) notifyWriter(key K, value V) {
	if !c.features.has(featCacheWriter) {
		return
	}
	callProtectedVoid(
		func(err error) { c.logWarn("cacheWriter.Write panicked", key, err) },
		func() {
			if err := c.writer.Write(key, value); err != nil {
				c.logWarn("cacheWriter.Write failed", key, err)
			}
		},
	)
}

// setVariableDeadline consults Expiry for the absolute deadline to assign n,
// no-op unless featExpireVariable is configured.
func (c *Cache[K, V]) setVariableDeadline(n *Node[K, V], now, currentDeadline int64, isUpdate bool) {
	if !c.features.has(featExpireVariable) {
		return
	}
	nowTime := time.Unix(0, now)
	var d time.Duration
	if isUpdate {
		d = c.expiry.ExpireAfterUpdate(n.key, n.value, nowTime, time.Duration(currentDeadline-now))
	} else {
		d = c.expiry.ExpireAfterCreate(n.key, n.value, nowTime)
	}
	n.variableTime = saturatingAddDuration(now, d)
}

// PutAll inserts or replaces every entry in values, returning the first
// ErrNullInput encountered (if any) after attempting every entry.
func (c *Cache[K, V]) PutAll(values map[K]V) error {
	var firstErr error
	for k, v := range values {
		if err := c.Put(k, v); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Invalidate removes key unconditionally (spec.md §4.4). Idempotent: a
// second call on an absent key is a no-op.
func (c *Cache[K, V]) Invalidate(key K) {
	n, found := c.store.load(key)
	if !found {
		return
	}
	n.nodeMu.Lock()
	alive := n.isAlive()
	n.nodeMu.Unlock()
	if !alive {
		return
	}
	c.recordWrite(writeTask[K, V]{kind: taskRemove, node: n})
}

// InvalidateAll removes every key in keys.
func (c *Cache[K, V]) InvalidateAll(keys []K) {
	for _, k := range keys {
		c.Invalidate(k)
	}
}

// Clear removes every entry in the cache.
func (c *Cache[K, V]) Clear() {
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()

	c.store.rangeAll(func(key K, n *Node[K, V]) bool {
		c.finalizeRemoval(n, CauseExplicit)
		return true
	})
	c.eden = accessDeque[K, V]{}
	c.probation = accessDeque[K, V]{}
	c.protected = accessDeque[K, V]{}
	c.writeOrder = writeDeque[K, V]{}
	c.wheel = newTimerWheel[K, V]()
	c.weightedSize.Store(0)
}

// EstimatedSize returns the approximate current weighted size, consistent
// with spec.md's "estimated" naming: it reflects the last maintenance pass,
// not necessarily every mutation enqueued since.
func (c *Cache[K, V]) EstimatedSize() int64 { return c.weightedSize.Load() }

// CleanUp forces an immediate, synchronous maintenance pass on the calling
// goroutine (spec.md §4.4 cleanUp()).
func (c *Cache[K, V]) CleanUp() { c.performMaintenance(c.now()) }

// Stats returns a snapshot of the configured StatsCounter, or a zero
// snapshot if RecordStats was never called on the Builder.
func (c *Cache[K, V]) Stats() StatsSnapshot { return c.stats.Snapshot() }

// SetMaximum adjusts the capacity target and forces an immediate
// maintenance pass so the cache converges to it (the policy façade's
// maximum setter).
func (c *Cache[K, V]) SetMaximum(n int64) {
	c.maximum.Store(n)
	c.evictionMu.Lock()
	c.recomputeTargets()
	c.evictionMu.Unlock()
	c.performMaintenance(c.now())
}

// Maximum returns the current capacity target.
func (c *Cache[K, V]) Maximum() int64 { return c.maximum.Load() }

// WeightOf returns the entry's own weight as last measured by the weigher
// (1 per entry when unweighted), or (0, false) if absent. This can differ
// from the weight the policy accounts until maintenance applies the update.
func (c *Cache[K, V]) WeightOf(key K) (int, bool) {
	n, found := c.store.load(key)
	if !found || !n.isAlive() {
		return 0, false
	}
	n.nodeMu.Lock()
	w := n.weight
	n.nodeMu.Unlock()
	return int(w), true
}

// maybeScheduleRefresh fires an async reload when refreshAfterWrite is
// configured and the entry's write time is stale (spec.md §4.7). At most
// one refresh is ever in flight per node: the node's refreshing flag makes
// this a silent no-op while one is already running.
func (c *Cache[K, V]) maybeScheduleRefresh(key K, n *Node[K, V], now int64) {
	if !c.features.has(featRefreshAfterWrite) || c.loader == nil {
		return
	}
	n.nodeMu.Lock()
	stale := now-n.writeTime > c.refreshAfterWriteNS
	alreadyRefreshing := n.refreshing
	if stale && !alreadyRefreshing {
		n.refreshing = true
	}
	oldValue := n.value
	n.nodeMu.Unlock()
	if !stale || alreadyRefreshing {
		return
	}

	reload := c.reloader
	if reload == nil {
		loader := c.loader
		reload = func(k K, _ V) (V, error) { return loader(k) }
	}
	executor := c.executor
	executor(func() {
		defer func() {
			n.nodeMu.Lock()
			n.refreshing = false
			n.nodeMu.Unlock()
		}()
		newValue, err := callProtected(func() (V, error) { return reload(key, oldValue) })
		if err != nil {
			c.logWarn("refresh load failed", key, err)
			return
		}
		if err := c.Put(key, newValue); err != nil {
			c.logWarn("refresh produced an invalid value", key, err)
		}
	})
}

// Refresh forces the same reload maybeScheduleRefresh would perform
// automatically, regardless of staleness (spec.md §4.7 refresh(key)).
func (c *Cache[K, V]) Refresh(key K) error {
	if c.loader == nil {
		return configError("Refresh requires a loader configured on the Builder")
	}
	n, found := c.store.load(key)
	if !found || !n.isAlive() {
		return nil
	}
	n.nodeMu.Lock()
	oldValue := n.value
	alreadyRefreshing := n.refreshing
	if !alreadyRefreshing {
		n.refreshing = true
	}
	n.nodeMu.Unlock()
	if alreadyRefreshing {
		return nil
	}

	reload := c.reloader
	if reload == nil {
		loader := c.loader
		reload = func(k K, _ V) (V, error) { return loader(k) }
	}
	newValue, err := callProtected(func() (V, error) { return reload(key, oldValue) })
	n.nodeMu.Lock()
	n.refreshing = false
	n.nodeMu.Unlock()
	if err != nil {
		return err
	}
	return c.Put(key, newValue)
}

// ComputeIfAbsent inserts the value mappingFn returns when key is absent,
// otherwise returns the existing value unchanged (spec.md SPEC_FULL §4.10).
func (c *Cache[K, V]) ComputeIfAbsent(key K, mappingFn func(K) (V, error)) (V, error) {
	if v, ok := c.GetIfPresent(key); ok {
		return v, nil
	}
	value, err := callProtected(func() (V, error) { return mappingFn(key) })
	if err != nil {
		var zero V
		return zero, err
	}
	if err := c.put(key, value, true); err != nil {
		var zero V
		return zero, err
	}
	if v, ok := c.GetIfPresent(key); ok {
		return v, nil
	}
	return value, nil
}

// ComputeIfPresent replaces key's value with remappingFn's result while it
// is alive, or removes it if remappingFn reports keep=false. Returns
// ok=false if key was absent.
func (c *Cache[K, V]) ComputeIfPresent(key K, remappingFn func(K, V) (newValue V, keep bool)) (V, bool) {
	v, ok := c.GetIfPresent(key)
	if !ok {
		var zero V
		return zero, false
	}
	newValue, keep := remappingFn(key, v)
	if !keep {
		c.Invalidate(key)
		var zero V
		return zero, false
	}
	if err := c.Put(key, newValue); err != nil {
		c.logWarn("remappingFn produced an invalid value", key, err)
		var zero V
		return zero, false
	}
	return newValue, true
}

// Compute applies remappingFn to key's current value (zero value and
// present=false if absent), inserting/replacing when keep=true or removing
// the key when keep=false.
func (c *Cache[K, V]) Compute(key K, remappingFn func(K, V, bool) (newValue V, keep bool)) (V, bool) {
	current, present := c.GetIfPresent(key)
	newValue, keep := remappingFn(key, current, present)
	if !keep {
		if present {
			c.Invalidate(key)
		}
		var zero V
		return zero, false
	}
	if err := c.Put(key, newValue); err != nil {
		c.logWarn("remappingFn produced an invalid value", key, err)
		var zero V
		return zero, false
	}
	return newValue, true
}
