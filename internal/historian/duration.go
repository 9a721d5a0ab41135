package historian

import (
	"math"
	"strconv"
	"time"
)

// HumanDuration renders d in the largest unit whose value, rounded to one
// decimal, stays under the next unit's threshold: "42.0 Sec", "1.5 Hrs".
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	ms := float64(d) / float64(time.Millisecond)

	if s := round1(ms / 1000); s < 60 {
		return format1(s) + " Sec"
	}
	if m := round1(ms / (1000 * 60)); m < 60 {
		return format1(m) + " Min"
	}
	if h := round1(ms / (1000 * 60 * 60)); h < 24 {
		return format1(h) + " Hrs"
	}
	return format1(round1(ms/(1000*60*60*24))) + " Days"
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func format1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
