package wtlfu

import "math/bits"

// frequencySketch is a 4-bit Count-Min estimator with periodic aging (C1).
// Single 64-bit array of counters: each uint64 word packs sixteen 4-bit
// counters; four independent hash dimensions each land in a (word, nibble)
// pair chosen by a fixed per-dimension multiplier.
//
// Not safe for concurrent increments from multiple goroutines: the spec's
// single-writer contract is guaranteed by C8 (maintenance is serialized
// behind evictionLock).
//
// grounded: bit-exact constants from spec.md §4.1/§6 (SEED array,
// RESET=0x7777…, ONE=0x1111…, sampleSize=10*capacity); shape (4 rows packed
// into one word array instead of dgraph-io/ristretto's 3 separate blocks,
// bloom/bloom.go) follows Caffeine's FrequencySketch as described in the
// spec rather than the ristretto CBF layout, since the spec requires exactly
// four dimensions sharing one table.
type frequencySketch struct {
	table      []uint64
	sampleSize int64
	blockMask  uint64
	size       int64 // increments since last reset

	seed [4]uint64 // per-instance nonzero spread, defends against hash flooding
}

// resetMask (0x7777…) isolates the low 3 bits of each nibble after a
// right-shift-by-one aging pass; oneMask (0x1111…) marks the low bit of each
// nibble, used to count odd (about-to-round-down) counters.
const (
	sketchResetMask uint64 = 0x7777777777777777
	sketchOneMask   uint64 = 0x1111111111111111
)

// sketchSeed is the bit-exact per-dimension multiplier array from spec.md §6.
var sketchSeed = [4]uint64{
	0xc3a5c85c97cb3127,
	0xb492b66fbe98f273,
	0x9ae16a3b2f90404f,
	0xcbf29ce484222325,
}

func newFrequencySketch() *frequencySketch {
	return &frequencySketch{}
}

// ensureCapacity sizes (or resizes) the sketch's table for maxCapacity
// entries. Length is a power of two >= next-power-of-two(maxCapacity)
// (spec.md §3 invariant i).
func (s *frequencySketch) ensureCapacity(maxCapacity int, rng func() uint64) {
	if maxCapacity <= 0 {
		maxCapacity = 1
	}
	newSize := roundUpPowerOfTwo(maxCapacity)
	if s.table != nil && int(s.blockMask+1) >= newSize {
		return
	}
	s.table = make([]uint64, newSize)
	s.blockMask = uint64(newSize - 1)
	s.sampleSize = 10 * int64(maxCapacity)
	if s.sampleSize <= 0 {
		s.sampleSize = 10
	}
	s.size = 0
	for i := range s.seed {
		v := rng()
		if v == 0 {
			v = sketchSeed[i]
		}
		s.seed[i] = v
	}
}

func (s *frequencySketch) isInitialized() bool { return s.table != nil }

// spread applies a two-round avalanche mix to defend against hash flooding
// (spec.md §4.1: "two rounds of ((x>>16)^x)*C").
func spread(x uint64) uint64 {
	const c = 0x45d9f3b
	x = ((x >> 16) ^ x) * c
	x = ((x >> 16) ^ x) * c
	return (x >> 16) ^ x
}

// indexOf returns the (word index, nibble index within word) for dimension i
// of the given spread hash.
func (s *frequencySketch) indexOf(hash uint64, i int) (word uint64, nibble uint64) {
	h := sketchSeed[i] * (hash ^ s.seed[i])
	h += h >> 32
	word = h & s.blockMask
	// dimension-dependent nibble selection: each dimension claims one of the
	// sixteen 4-bit lanes in the word, chosen by the next 4 bits of h.
	nibble = (h >> 1) & 0xf
	return word, nibble
}

// frequency returns the estimated count for key, 0..15, the minimum across
// the four dimensions (Count-Min).
func (s *frequencySketch) frequency(hash uint64) int {
	if !s.isInitialized() {
		return 0
	}
	h := spread(hash)
	minimum := 15
	for i := 0; i < 4; i++ {
		word, nibble := s.indexOf(h, i)
		count := int((s.table[word] >> (nibble * 4)) & 0xf)
		if count < minimum {
			minimum = count
		}
	}
	return minimum
}

// increment attempts to add one at each of the four counters, saturating at
// 15, and runs an aging pass every sampleSize increments.
func (s *frequencySketch) increment(hash uint64) {
	if !s.isInitialized() {
		return
	}
	h := spread(hash)
	added := false
	for i := 0; i < 4; i++ {
		word, nibble := s.indexOf(h, i)
		shift := nibble * 4
		count := (s.table[word] >> shift) & 0xf
		if count < 15 {
			s.table[word] += 1 << shift
			added = true
		}
	}
	if added {
		s.size++
		if s.size == s.sampleSize {
			s.reset()
		}
	}
}

// reset is the periodic aging pass (spec.md §3 invariant iii, §4.1): count
// odd counters via popcount of word&ONE, then halve every counter via
// (word>>1)&RESET, and decrement the running sample count by a quarter of
// the odd count.
func (s *frequencySketch) reset() {
	oddCount := 0
	for i, word := range s.table {
		oddCount += bits.OnesCount64(word & sketchOneMask)
		s.table[i] = (word >> 1) & sketchResetMask
	}
	s.size -= int64(oddCount) >> 2
	if s.size < 0 {
		s.size = 0
	}
}
