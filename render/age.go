package render

import (
	"fmt"
	"time"
)

const (
	second = 1
	minute = 60 * second
	hour   = 60 * minute
	day    = 24 * hour
	month  = 30 * day
	year   = 365 * day
)

// largest first
var ageUnits = []struct {
	seconds float64
	name    string
}{
	{year, "yr"},
	{month, "mo"},
	{day, "day"},
	{hour, "hr"},
	{minute, "min"},
	{second, "sec"},
}

// FormatAge returns the time between two UTC timestamps (in seconds) as a
// single coarse unit, e.g. "3 days" or "1 yr". Only the largest non-zero
// unit is reported; less than a second (or a negative difference) is "now".
func FormatAge(start, end float64) string {
	diff := end - start
	for _, unit := range ageUnits {
		n := int64(diff / unit.seconds)
		if n == 1 {
			return fmt.Sprintf("1 %s", unit.name)
		}
		if n > 1 {
			return fmt.Sprintf("%d %ss", n, unit.name)
		}
	}
	return "now"
}

// unixSeconds returns t as fractional seconds since the epoch
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
