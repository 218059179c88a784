package watch

import "time"

// effectiveInterval resolves the poll interval for a subscription:
// subscription seconds → subscription legacy millis → default seconds →
// default legacy millis → built-in. The result is floored at minInterval
// so a bad record can never produce a runaway timer.
func effectiveInterval(sub Subscription, def Defaults) time.Duration {
	var d time.Duration
	switch {
	case sub.CaptureIntervalSeconds > 0:
		d = time.Duration(sub.CaptureIntervalSeconds) * time.Second
	case sub.IntervalMS > 0:
		d = time.Duration(sub.IntervalMS) * time.Millisecond
	case def.CaptureIntervalSeconds > 0:
		d = time.Duration(def.CaptureIntervalSeconds) * time.Second
	case def.IntervalMS > 0:
		d = time.Duration(def.IntervalMS) * time.Millisecond
	default:
		d = defaultInterval
	}
	if d < minInterval {
		d = minInterval
	}
	return d
}

// requiredStableCount resolves how many consecutive identical captures a
// subscription needs before it is considered stable: explicit count →
// stable-duration divided by the effective interval (ceiling, min 1) →
// default count → default duration → built-in.
func requiredStableCount(sub Subscription, interval time.Duration, def Defaults) int {
	switch {
	case sub.StableCount > 0:
		return sub.StableCount
	case sub.StableSeconds > 0:
		return countFromDuration(time.Duration(sub.StableSeconds)*time.Second, interval)
	case def.StableCount > 0:
		return def.StableCount
	case def.StableSeconds > 0:
		return countFromDuration(time.Duration(def.StableSeconds)*time.Second, interval)
	default:
		return defaultStableCount
	}
}

func countFromDuration(stable, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int((stable + interval - 1) / interval)
	if n < 1 {
		return 1
	}
	return n
}

// effectiveLines resolves the capture line bound.
func effectiveLines(sub Subscription, def Defaults) int {
	switch {
	case sub.CaptureLines > 0:
		return sub.CaptureLines
	case def.CaptureLines > 0:
		return def.CaptureLines
	default:
		return defaultLines
	}
}
