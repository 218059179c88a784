package watch

import (
	"time"

	"panewatch/internal/textutil"
)

// observe feeds one successful capture into the runtime and reports whether
// this capture completes a stable episode that still needs notifying.
//
// stableTicks is the current run length of consecutive identical captures.
// A content change restarts the run and clears lastNotifiedHash, so any
// change after a notified episode re-arms notification. When the threshold
// is reached, lastNotifiedHash is set before the caller dispatches anything,
// which keeps a slow notification pipeline from emitting twice for the
// same hash.
func (rt *watchRuntime) observe(text string, required int, now time.Time) bool {
	hash := textutil.Fingerprint(text)
	rt.lastCapturedAt = now
	rt.lastErr = ""

	if hash != rt.lastHash {
		// New content starts a run of length one and re-arms notification.
		rt.lastHash = hash
		rt.lastOutput = text
		rt.stableTicks = 1
		rt.lastNotifiedHash = ""
	} else {
		rt.stableTicks++
	}

	if required < 1 {
		required = 1
	}
	if rt.stableTicks < required {
		return false
	}
	if rt.lastNotifiedHash == rt.lastHash {
		return false
	}
	rt.lastNotifiedHash = rt.lastHash
	rt.lastNotifiedAt = now
	return true
}

// observeFailure records a failed capture. "Unknown" is treated as unstable:
// the tick counter resets but lastHash is kept, so a recovered pane must
// produce a fresh run of identical captures before it can notify.
func (rt *watchRuntime) observeFailure(err error, now time.Time) {
	rt.stableTicks = 0
	rt.lastCapturedAt = now
	if err != nil {
		rt.lastErr = err.Error()
	}
}
