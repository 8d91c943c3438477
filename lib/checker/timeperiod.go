package checker

import "time"

// TimePeriod restricts activity to a recurring time window.
type TimePeriod interface {
	Contains(t time.Time) bool
}

// HourRange is a daily time window between From (inclusive) and To
// (exclusive), expressed as hours of the day. A range with From > To wraps
// around midnight.
type HourRange struct {
	From int
	To   int
}

// Contains reports whether t falls inside the window.
func (r HourRange) Contains(t time.Time) bool {
	hour := t.Hour()
	if r.From <= r.To {
		return hour >= r.From && hour < r.To
	}
	return hour >= r.From || hour < r.To
}
