package wtlfu

import (
	"fmt"
	"math/bits"
	"unsafe"
)

// hashString hashes a string using wyhash (same mix as the teacher's
// hashString, s3fifo.go): unsafe.Pointer access into the string's backing
// array avoids a copy, and the final mix is a single 128-bit multiply.
func hashString(s string) uint64 {
	n := len(s)
	if n == 0 {
		return 0
	}

	p := unsafe.Pointer(unsafe.StringData(s))
	var a, b uint64
	if n <= 8 {
		if n >= 4 {
			a = uint64(*(*uint32)(p))
			b = uint64(*(*uint32)(unsafe.Add(p, n-4)))
		} else {
			a = uint64(*(*byte)(p))<<16 | uint64(*(*byte)(unsafe.Add(p, n>>1)))<<8 | uint64(*(*byte)(unsafe.Add(p, n-1)))
		}
	} else {
		a = *(*uint64)(p)
		b = *(*uint64)(unsafe.Add(p, n-8))
	}

	const wyp0 = 0xa0761d6478bd642f
	const wyp1 = 0xe7037ed1a0b428db
	hi, lo := bits.Mul64(a^wyp0, b^uint64(n)^wyp1)
	return hi ^ lo
}

// hashInt64 is a splitmix64 finalizer (the fixed-point avalanche Caffeine
// and the teacher's int hashing both use to avoid clustering on sequential
// integer keys).
func hashInt64(v int64) uint64 {
	x := uint64(v)
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// buildHasher resolves K's dynamic type once at construction, the same
// approach as the teacher's hasher detection (s3fifo.go): a type switch on
// the zero value picks a monomorphic closure instead of paying a type
// switch on every Get/Put.
func buildHasher[K comparable]() func(K) uint64 {
	var zero K
	switch any(zero).(type) {
	case int:
		return func(k K) uint64 { return hashInt64(int64(any(k).(int))) }
	case int32:
		return func(k K) uint64 { return hashInt64(int64(any(k).(int32))) }
	case int64:
		return func(k K) uint64 { return hashInt64(any(k).(int64)) }
	case uint:
		return func(k K) uint64 { return hashInt64(int64(any(k).(uint))) } //nolint:gosec
	case uint64:
		return func(k K) uint64 { return hashInt64(int64(any(k).(uint64))) } //nolint:gosec
	case string:
		return func(k K) uint64 { return hashString(any(k).(string)) }
	default:
		return func(k K) uint64 {
			switch v := any(k).(type) {
			case fmt.Stringer:
				return hashString(v.String())
			default:
				return hashString(fmt.Sprintf("%v", k))
			}
		}
	}
}
