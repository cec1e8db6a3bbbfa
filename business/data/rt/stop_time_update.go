package rt

import (
	"time"

	"github.com/google/uuid"
)

// StopTimeUpdate is the realtime state of one stop event within a trip update.
// Arrival and Departure are naive UTC datetimes, delays keep the offset from
// the base schedule so base timetable changes stay recoverable. A zero delay
// and an absent delay are equivalent.
type StopTimeUpdate struct {
	ID              string
	Order           int
	StopID          string
	Message         *string
	Arrival         *time.Time
	ArrivalDelay    time.Duration
	ArrivalStatus   StopEventStatus
	Departure       *time.Time
	DepartureDelay  time.Duration
	DepartureStatus StopEventStatus
}

// NewStopTimeUpdate builds a stop time update for stopID at order with default
// "none" statuses
func NewStopTimeUpdate(stopID string, order int) *StopTimeUpdate {
	return &StopTimeUpdate{
		ID:              uuid.NewString(),
		Order:           order,
		StopID:          stopID,
		ArrivalStatus:   StopEventNone,
		DepartureStatus: StopEventNone,
	}
}

// IsEqual compares every persisted field. Value equality is kept off the
// struct itself so accidental == comparisons of pointers stay visible.
func (s *StopTimeUpdate) IsEqual(other *StopTimeUpdate) bool {
	return s.StopID == other.StopID &&
		equalStringPtr(s.Message, other.Message) &&
		s.Order == other.Order &&
		equalTimePtr(s.Departure, other.Departure) &&
		s.DepartureDelay == other.DepartureDelay &&
		s.DepartureStatus == other.DepartureStatus &&
		equalTimePtr(s.Arrival, other.Arrival) &&
		s.ArrivalDelay == other.ArrivalDelay &&
		s.ArrivalStatus == other.ArrivalStatus
}

// EventStatus returns the status of the named event, "arrival" or "departure"
func (s *StopTimeUpdate) EventStatus(event string) StopEventStatus {
	if event == "departure" {
		return s.DepartureStatus
	}
	return s.ArrivalStatus
}

func equalTimePtr(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalStringPtr(a *string, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
