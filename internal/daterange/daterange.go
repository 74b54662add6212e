// Package daterange resolves the reporting presets shared by the sales
// and commission screens into concrete time bounds.
package daterange

import (
	"fmt"
	"time"
)

const (
	Today = "today"
	Week  = "week"
	Month = "month"
	Year  = "year"
	All   = "all"
)

type Range struct {
	Start time.Time
	End   time.Time
	// All means no lower bound; Start is ignored.
	All bool
}

// Resolve turns a preset into concrete bounds. The upper bound is always
// the end of the current day so freshly recorded sales are never
// excluded. Weeks start on Monday.
func Resolve(preset string, now time.Time) (Range, error) {
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), now.Location())
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch preset {
	case Today, "":
		return Range{Start: startOfDay, End: endOfDay}, nil
	case Week:
		offset := int(now.Weekday()) - int(time.Monday)
		if offset < 0 {
			offset += 7
		}
		return Range{Start: startOfDay.AddDate(0, 0, -offset), End: endOfDay}, nil
	case Month:
		return Range{Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), End: endOfDay}, nil
	case Year:
		return Range{Start: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), End: endOfDay}, nil
	case All:
		return Range{End: endOfDay, All: true}, nil
	}
	return Range{}, fmt.Errorf("unknown range preset %q", preset)
}
