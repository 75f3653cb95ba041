package schedule

import (
	"math/rand/v2"
	"time"
)

// MinRefreshDelay is the smallest delay RefreshDelay returns by default.
const MinRefreshDelay = 5 * time.Second

// RefreshDelay converts the issuer's seconds-until-refresh into a timer delay.
// The reported value is the only source of truth for refresh timing; values
// below floor (including zero and negatives) are clamped up to floor.
func RefreshDelay(secondsUntilRefresh int64, floor time.Duration) time.Duration {
	if floor <= 0 {
		floor = MinRefreshDelay
	}
	if secondsUntilRefresh <= 0 {
		return floor
	}
	// Cap before multiplying so huge values cannot overflow.
	if secondsUntilRefresh > int64((1<<63-1)/time.Second) {
		return time.Duration(1<<63 - 1)
	}
	d := time.Duration(secondsUntilRefresh) * time.Second
	if d < floor {
		return floor
	}
	return d
}

// EpochSyncTolerance keeps epoch refreshes clear of both window edges so
// small clock differences with the issuer cannot push a refresh past the
// boundary.
const EpochSyncTolerance = 10 * time.Second

// EpochRefreshWindow bounds the refresh delay for issuers whose credentials
// rotate on fixed epochs. The window is the last buffer of the current epoch,
// narrowed by EpochSyncTolerance at each end. When now already falls inside
// that buffer the following epoch's window is returned.
func EpochRefreshWindow(now time.Time, epochLength, buffer time.Duration) (earliest, latest time.Duration) {
	if epochLength <= 0 {
		return 0, 0
	}
	elapsed := time.Duration(now.UnixNano()) % epochLength
	next := epochLength - elapsed
	if next < buffer {
		next += epochLength
	}
	earliest = next - buffer + EpochSyncTolerance
	latest = next - EpochSyncTolerance
	if latest < earliest {
		latest = earliest
	}
	return earliest, latest
}

// EpochRefreshDelay draws a whole-second delay uniformly from
// EpochRefreshWindow, spreading clients across the buffer. randN returns a
// value in [0, n); nil uses math/rand/v2.
func EpochRefreshDelay(now time.Time, epochLength, buffer time.Duration, randN func(n int64) int64) time.Duration {
	earliest, latest := EpochRefreshWindow(now, epochLength, buffer)
	if randN == nil {
		randN = rand.Int64N
	}
	span := int64((latest - earliest) / time.Second)
	return earliest + time.Duration(randN(span+1))*time.Second
}
