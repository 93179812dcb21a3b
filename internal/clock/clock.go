// Package clock provides the millisecond timestamps used across the pipeline.
package clock

import "time"

var start = time.Now()

// WallMs is the current wall-clock time in unix milliseconds. Stage
// timestamps and acks are stamped with this.
func WallMs() int64 {
	return time.Now().UnixMilli()
}

// MonotonicMs is a monotonic millisecond counter since process start, used
// for intervals that must not jump with wall-clock adjustments.
func MonotonicMs() int64 {
	return time.Since(start).Milliseconds()
}
