package transport

import (
	"fmt"
	"math"
)

// FormatClock renders seconds as m:ss for the elapsed-time label.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
