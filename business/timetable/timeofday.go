package timetable

import (
	"fmt"
	"time"
)

// TimeOfDay is a base-schedule event time expressed in seconds after midnight
// UTC. The base timetable only publishes times of day, the service day a stop
// event falls on is resolved while merging.
type TimeOfDay int32

// NewTimeOfDay builds a TimeOfDay from hours, minutes and seconds
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// TimeOfDayFrom extracts the UTC time of day from t
func TimeOfDayFrom(t time.Time) TimeOfDay {
	utc := t.UTC()
	return NewTimeOfDay(utc.Hour(), utc.Minute(), utc.Second())
}

// ParseTimeOfDay reads a "15:04:05" formatted string
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("parsing time of day %q: %w", s, err)
	}
	return NewTimeOfDay(parsed.Hour(), parsed.Minute(), parsed.Second()), nil
}

// At composes the time of day with a service date into a naive UTC datetime
func (t TimeOfDay) At(date time.Time) time.Time {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(time.Duration(t) * time.Second)
}

// After reports whether t is later in the day than other
func (t TimeOfDay) After(other TimeOfDay) bool {
	return t > other
}

func (t TimeOfDay) String() string {
	seconds := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}
