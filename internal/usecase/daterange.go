package usecase

import (
	"iter"
	"time"
)

// DayRange yields start, start+1d, ... up to but excluding end. The sequence
// can be ranged over any number of times.
func DayRange(start, end time.Time) iter.Seq[time.Time] {
	days := int(end.Sub(start) / (24 * time.Hour))

	return func(yield func(time.Time) bool) {
		for n := 0; n < days; n++ {
			if !yield(start.AddDate(0, 0, n)) {
				return
			}
		}
	}
}

// DefaultRange is the daily window [yesterday, today) in UTC.
func DefaultRange(now time.Time) (time.Time, time.Time) {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -1), today
}
