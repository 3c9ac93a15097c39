package wtlfu

import "time"

// Ticker is the cache's monotonic nanosecond time source (C11). The default
// is systemTicker, which wraps time.Now(); tests install a deterministic
// double via the ticker(fn) builder option (spec.md §6, §9 "accept
// collaborators by value/handle from the builder" instead of a global
// SystemTicker.Instance singleton).
//
// grounded: teacher calls time.Now() directly throughout memory.go/s3fifo.go;
// this generalizes that to an injectable seam, matching the spec's ticker
// option row.
type Ticker interface {
	// Now returns the current time as nanoseconds on a monotonic,
	// non-decreasing scale. Implementations must never return a value lower
	// than a previously returned value.
	Now() int64
}

// TickerFunc adapts a plain function to the Ticker interface.
type TickerFunc func() int64

func (f TickerFunc) Now() int64 { return f() }

type systemTicker struct{}

// systemTickerBase anchors systemTicker to the wall clock once; later
// readings advance by Go's monotonic clock, so they never go backwards.
var systemTickerBase = time.Now()

func (systemTicker) Now() int64 {
	return systemTickerBase.UnixNano() + int64(time.Since(systemTickerBase))
}

// maxExpiry is the maximum representable absolute deadline, chosen so that
// now+duration additions never overflow int64 nanoseconds even for the
// largest permitted duration (spec.md §9: "clamp durations to a documented
// maximum that is still representable in 63-bit signed arithmetic with all
// additions performed in checked or saturating modes").
const maxExpiry = int64(1)<<62 - 1

// saturatingAddDuration adds a duration (in nanoseconds) to a base timestamp,
// clamping to maxExpiry instead of overflowing.
func saturatingAddDuration(base int64, d time.Duration) int64 {
	if d <= 0 {
		return base
	}
	n := int64(d)
	if base > maxExpiry-n {
		return maxExpiry
	}
	return base + n
}
