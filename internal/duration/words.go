// Package duration renders durations for client-facing text.
package duration

import (
	"fmt"
	"time"
)

// Words renders d in the largest whole unit that divides it, e.g.
// "15 minutes" or "1 hour". Anything else is rounded up to seconds.
func Words(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64((d+time.Second-1)/time.Second), "second")
	}
}
