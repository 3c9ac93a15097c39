package wtlfu

import "math/bits"

// ceilingNextPowerOfTwo returns the smallest power of two strictly greater
// than n (n > 0), i.e. 1<<bits.Len(uint(n)): (1)==2, (2)==4, (4)==8,
// (5)==8, (11)==16, (33)==64. A power of two is always doubled; see
// roundUpPowerOfTwo for the variant that keeps it.
func ceilingNextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(n))
}

// roundUpPowerOfTwo returns n unchanged if it is already a power of two,
// otherwise the next power of two above it. Used for sizing the frequency
// sketch and the read-buffer ring count, where an exact power that already
// satisfies the capacity must not be doubled again.
func roundUpPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

// leadingZeros32 returns the number of leading zero bits in the 32-bit
// representation of x, matching Go's bits.LeadingZeros32 but named to match
// the spec's seed test vocabulary: leadingZeros(1 as 32-bit)==31,
// leadingZeros(16)==27.
func leadingZeros32(x uint32) int {
	return bits.LeadingZeros32(x)
}

// leadingZeros64 is the 64-bit counterpart: leadingZeros(1 as 64-bit)==63,
// leadingZeros(256)==55.
func leadingZeros64(x uint64) int {
	return bits.LeadingZeros64(x)
}
