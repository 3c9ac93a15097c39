package wtlfu

import "time"

// This file is C8: the maintenance engine and the W-TinyLFU admission/
// eviction policy it applies while holding evictionLock. It is the single
// logical serializer spec.md §5 describes: the only code path that mutates
// C1 (sketch), C4/C5 (deques), C6 (wheel), and the maintenance-owned fields
// of Node.
//
// grounded: the two-phase evictFromEden-then-evictFromMain shape and the
// onAccess promotion/demotion rules are bit-for-bit spec.md §4.6; the
// queue-walk-to-find-a-victim style is the same shape as the teacher's
// evictFromSmall/evictFromMain (s3fifo.go), generalized from two FIFO
// queues to three segmented-LRU queues plus a frequency-sketch comparison
// instead of a single frequency counter.

// performMaintenance drains C2 and C3, applies expiration, and enforces
// size limits. Safe to call inline on any caller's goroutine (put/get) or
// from a background worker; both are allowed (spec.md §5).
func (c *Cache[K, V]) performMaintenance(now int64) {
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()

	c.drainReadBuffer(now)
	c.drainWriteBuffer()
	c.expireVariable(now)
	c.expireWriteBased(now)
	c.expireAccessBased(now)
	c.evictFromEden(now)
	c.evictFromMain(now)
}

func (c *Cache[K, V]) drainReadBuffer(now int64) {
	c.readBuf.drainTo(func(n *Node[K, V]) {
		if n.isAlive() {
			c.onAccess(n, now)
		}
	})
}

func (c *Cache[K, V]) drainWriteBuffer() {
	const maxPerCycle = 1 << 20 // defensive bound against a producer storm
	for i := 0; i < maxPerCycle; i++ {
		task, ok := c.writeBuf.dequeue()
		if !ok {
			return
		}
		switch task.kind {
		case taskAdd:
			c.applyAdd(task.node)
		case taskUpdate:
			c.applyUpdate(task.node, task.weightDiff)
		case taskRemove:
			c.applyRemove(task.node)
		}
	}
}

// onAccess implements spec.md §4.6 onAccess(n): bump frequency, then
// reorder/promote/demote depending on which queue n currently occupies, then
// give variable expiration a chance to extend the deadline on read.
func (c *Cache[K, V]) onAccess(n *Node[K, V], now int64) {
	c.sketch.increment(n.hash)

	switch n.queue {
	case queueEden:
		c.eden.moveToBack(n)
	case queueProbation:
		c.probation.unlink(n)
		n.queue = queueProtected
		c.protected.linkLast(n)
		c.demoteProtectedOverflow()
	case queueProtected:
		c.protected.moveToBack(n)
	}

	c.applyReadExpiry(n, now)
}

// applyReadExpiry consults Expiry.ExpireAfterRead (spec.md §6: "called on
// every read of a live entry") and reschedules the timer wheel if it
// extends or shortens the deadline. variableTime is evictionLock-owned, so
// this is only ever called while performMaintenance holds evictionMu.
func (c *Cache[K, V]) applyReadExpiry(n *Node[K, V], now int64) {
	if !c.features.has(featExpireVariable) || n.variableTime <= 0 {
		return
	}
	n.nodeMu.Lock()
	key, value := n.key, n.value
	n.nodeMu.Unlock()

	remaining := time.Duration(n.variableTime - now)
	d := c.expiry.ExpireAfterRead(key, value, time.Unix(0, now), remaining)
	newDeadline := saturatingAddDuration(now, d)
	if newDeadline == n.variableTime {
		return
	}
	n.variableTime = newDeadline
	if n.inTimerWheel() {
		c.wheel.reschedule(n)
	}
}

// demoteProtectedOverflow moves protected-queue heads back into probation
// while protected exceeds its target (spec.md §4.6 onAccess, probation->
// protected promotion clause).
func (c *Cache[K, V]) demoteProtectedOverflow() {
	for c.weightedLen(&c.protected) > c.protectedTarget {
		head := c.protected.peekFirst()
		if head == nil {
			return
		}
		c.protected.unlink(head)
		head.queue = queueProbation
		c.probation.linkLast(head)
	}
}

// weightedLen sums policyWeight across a deque by walking it, so its cost is
// linear in the deque's length (the protected deque's target is about 80% of
// the maximum).
func (c *Cache[K, V]) weightedLen(d *accessDeque[K, V]) int64 {
	var total int64
	for n := d.head; n != nil; n = n.accessNext {
		total += int64(n.policyWeight)
	}
	return total
}

// recomputeTargets applies the 99%/80% split from spec.md §4.6:
// eden = max - floor(max*0.99); mainProtected = floor((max-eden)*0.80);
// mainProbation = main - mainProtected. Targets, not hard caps.
func (c *Cache[K, V]) recomputeTargets() {
	max := c.maximum.Load()
	if max < 0 {
		max = 0
	}
	eden := max - (max*99)/100
	main := max - eden
	protectedTarget := (main * 80) / 100
	c.edenTarget = eden
	c.protectedTarget = protectedTarget
	c.probationTarget = main - protectedTarget
}

// applyAdd links a freshly inserted node into eden and the write/variable
// order structures per its configured features.
func (c *Cache[K, V]) applyAdd(n *Node[K, V]) {
	if !n.isAlive() {
		return // raced with an explicit removal before maintenance ran
	}
	n.policyWeight = n.weight
	n.queue = queueEden
	c.eden.linkLast(n)
	if c.features.has(featExpireAfterWrite) {
		c.writeOrder.linkLast(n)
	}
	if c.features.has(featExpireVariable) && n.variableTime > 0 {
		c.wheel.schedule(n)
	}
	c.weightedSize.Add(int64(n.weight))
}

// applyUpdate reflects a value/weight replacement already performed under
// the node's own monitor (spec.md §4.8) into the policy structures: the
// node keeps its queue membership but its accounted weight changes, and its
// write-order position moves to the tail (latest write wins FIFO order).
func (c *Cache[K, V]) applyUpdate(n *Node[K, V], weightDiff int32) {
	if !n.isAlive() {
		return
	}
	n.policyWeight += weightDiff
	c.weightedSize.Add(int64(weightDiff))
	if c.features.has(featExpireAfterWrite) {
		c.writeOrder.moveToBack(n)
	}
	if c.features.has(featExpireVariable) {
		c.wheel.reschedule(n)
	}
}

// applyRemove unlinks an explicitly-invalidated node from every policy
// structure and finalizes it, mirroring evictEntry's unlink phase but with
// CauseExplicit and no resurrection check (an explicit removal is never
// reconsidered).
func (c *Cache[K, V]) applyRemove(n *Node[K, V]) {
	c.finalizeRemoval(n, CauseExplicit)
}

// evictEntry is the single path by which a node leaves the policy
// structures for EXPIRED or SIZE causes (spec.md §4.6). It rechecks
// eligibility under the node's own monitor: a node whose deadline moved or
// whose weight became zero since it was chosen as a victim is resurrected
// (relinked) instead of evicted.
func (c *Cache[K, V]) evictEntry(n *Node[K, V], cause RemovalCause, now int64) {
	n.nodeMu.Lock()
	if !n.isAlive() {
		n.nodeMu.Unlock()
		return
	}
	if c.shouldResurrect(n, cause, now) {
		c.resurrect(n)
		n.nodeMu.Unlock()
		return
	}
	n.nodeMu.Unlock()
	c.finalizeRemoval(n, cause)
}

// shouldResurrect recomputes expiration/weight eligibility at the moment of
// eviction (spec.md §3 Node invariants, §4.6 evictEntry step (a)).
func (c *Cache[K, V]) shouldResurrect(n *Node[K, V], cause RemovalCause, now int64) bool {
	switch cause {
	case CauseExpired:
		if c.features.has(featExpireVariable) && n.variableTime > 0 && n.variableTime <= now {
			return false
		}
		if c.features.has(featExpireAfterWrite) && now-n.writeTime > int64(c.expireAfterWriteNS) {
			return false
		}
		if c.features.has(featExpireAfterAccess) && now-n.accessTime.Load() > int64(c.expireAfterAccessNS) {
			return false
		}
		return true // none of the configured axes still justify expiry
	case CauseSize:
		return n.weight == 0
	default:
		return false
	}
}

// resurrect relinks a wrongly-chosen victim back to the tail of its deque
// (most-recently-touched position) instead of evicting it.
func (c *Cache[K, V]) resurrect(n *Node[K, V]) {
	if n.queue != queueNone {
		c.dequeFor(n.queue).moveToBack(n)
	}
}

func (c *Cache[K, V]) dequeFor(q queueType) *accessDeque[K, V] {
	switch q {
	case queueEden:
		return &c.eden
	case queueProbation:
		return &c.probation
	case queueProtected:
		return &c.protected
	default:
		return nil
	}
}

// finalizeRemoval performs evictEntry steps (b)-(e): writer notification,
// death, unlink from every policy structure, and an asynchronous removal
// notification. Called for every terminal removal regardless of cause.
func (c *Cache[K, V]) finalizeRemoval(n *Node[K, V], cause RemovalCause) {
	n.nodeMu.Lock()
	if n.isDead() {
		n.nodeMu.Unlock()
		return
	}
	key, value, weight := n.key, n.value, n.policyWeight
	n.markDead()
	n.nodeMu.Unlock()

	if c.features.has(featCacheWriter) {
		callProtectedVoid(
			func(err error) { c.logWarn("cacheWriter.Delete panicked", key, err) },
			func() {
				if err := c.writer.Delete(key, value, cause); err != nil {
					c.logWarn("cacheWriter.Delete failed", key, err)
				}
			},
		)
	}

	if q := n.queue; q != queueNone {
		c.dequeFor(q).unlink(n)
		n.queue = queueNone
	}
	if c.features.has(featExpireAfterWrite) {
		c.writeOrder.unlink(n)
	}
	if n.inTimerWheel() {
		c.wheel.deschedule(n)
	}

	c.weightedSize.Add(-int64(weight))
	c.store.deleteNode(key, n)

	if c.features.has(featStats) && cause.wasEvicted() {
		c.stats.RecordEviction(int(weight))
	}
	if c.features.has(featRemovalListener) {
		listener, executor := c.removalListener, c.executor
		executor(func() {
			callProtectedVoid(
				func(err error) { c.logWarn("removalListener panicked", key, err) },
				func() { listener(key, value, cause) },
			)
		})
	}
}

// expireWriteBased walks the write-order deque head while it is expired
// (spec.md §4.6/§8 invariant 4).
func (c *Cache[K, V]) expireWriteBased(now int64) {
	if !c.features.has(featExpireAfterWrite) {
		return
	}
	for {
		head := c.writeOrder.peekFirst()
		if head == nil || now-head.writeTime <= int64(c.expireAfterWriteNS) {
			return
		}
		c.evictEntry(head, CauseExpired, now)
	}
}

// expireAccessBased walks each access-order deque's head while expired
// under expireAfterAccess. Each deque is independently ordered by recency
// (onAccess always moves the touched node to its deque's tail), so checking
// each deque's head once per maintenance pass is sufficient (spec.md §4.6:
// "walking the heads of the corresponding order deques until the head is
// still fresh").
func (c *Cache[K, V]) expireAccessBased(now int64) {
	if !c.features.has(featExpireAfterAccess) {
		return
	}
	for _, d := range [...]*accessDeque[K, V]{&c.eden, &c.probation, &c.protected} {
		for {
			head := d.peekFirst()
			if head == nil || now-head.accessTime.Load() <= int64(c.expireAfterAccessNS) {
				break
			}
			c.evictEntry(head, CauseExpired, now)
		}
	}
}

// expireVariable advances the timer wheel to now, evicting every node whose
// variableTime deadline has passed.
func (c *Cache[K, V]) expireVariable(now int64) {
	if !c.features.has(featExpireVariable) {
		return
	}
	expired, err := c.wheel.advance(now, c.scratchExpired[:0])
	if err != nil {
		c.logWarn("timer wheel advance failed, will retry", *new(K), err)
		return
	}
	c.scratchExpired = expired
	for _, n := range expired {
		c.evictEntry(n, CauseExpired, now)
	}
	c.scratchExpired = c.scratchExpired[:0]
}

// evictFromEden is spec.md §4.6 eviction phase 1: while eden exceeds its
// target, demote eden heads into main-probation.
func (c *Cache[K, V]) evictFromEden(now int64) {
	for c.weightedLen(&c.eden) > c.edenTarget {
		head := c.eden.peekFirst()
		if head == nil {
			return
		}
		c.eden.unlink(head)
		head.queue = queueProbation
		c.probation.linkLast(head)
	}
}

// evictFromMain is spec.md §4.6 eviction phase 2: while total weighted size
// exceeds maximum, compare a probation-tail admission candidate against a
// probation-head incumbent victim via the frequency sketch, falling back to
// protected/eden heads if probation is empty.
func (c *Cache[K, V]) evictFromMain(now int64) {
	for c.weightedSize.Load() > c.maximum.Load() {
		victim := c.probation.peekFirst()
		candidate := c.probation.peekLast()
		if victim == nil && candidate == nil {
			victim = c.protected.peekFirst()
			if victim == nil {
				victim = c.eden.peekFirst()
			}
			candidate = nil
		}
		if victim == nil && candidate == nil {
			return // nothing left to evict; maintenance will catch up next cycle
		}

		if candidate != nil && victim != candidate && int64(candidate.weight) > c.maximum.Load() {
			c.evictEntry(candidate, CauseSize, now)
			continue
		}

		loser := c.chooseLoser(victim, candidate)
		if loser == nil {
			return
		}
		c.evictEntry(loser, CauseSize, now)
	}
}

// chooseLoser implements the admit-vs-reject comparison from spec.md §4.6:
// admit candidate over victim iff its sketch frequency is strictly greater;
// reject outright at frequency<=5; otherwise a 1/128 random admit chance.
func (c *Cache[K, V]) chooseLoser(victim, candidate *Node[K, V]) *Node[K, V] {
	if candidate == nil || candidate == victim {
		return victim
	}
	if victim == nil {
		return candidate
	}
	candidateFreq := c.sketch.frequency(candidate.hash)
	victimFreq := c.sketch.frequency(victim.hash)
	if candidateFreq > victimFreq {
		return victim
	}
	if candidateFreq <= 5 {
		return candidate
	}
	if c.rnd()&127 == 0 {
		return victim
	}
	return candidate
}
