package rt

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opentransit/rtbridge/business/timetable"
)

// VehicleJourney is one circulation of a base-schedule trip on a specific day.
// Identity is (TripID, StartTimestamp). BaseStops caches the base timetable's
// stop sequence for the merge and is not persisted, it is empty for trips that
// exist only in realtime.
type VehicleJourney struct {
	ID             string    `db:"id"`
	TripID         string    `db:"trip_id"`
	StartTimestamp time.Time `db:"start_timestamp"`

	BaseStops []timetable.StopTime `db:"-"`
}

// NewVehicleJourney resolves the circulation date of trip within the search
// window [since, until] and returns the dated journey.
//
// The timetable service only publishes times of day, so the start timestamp is
// re-processed here: it is the first stop's time of day on since's date, moved
// one day forward when that lands before since. A start past until fails with
// ErrCirculationDate.
//
// For a trip existing only in realtime (no base stop times), explicitStart is
// used verbatim and must be provided.
//
// All three datetimes must be naive UTC, anything else is a fatal ErrNotUTC.
func NewVehicleJourney(trip *timetable.Trip, since time.Time, until time.Time, explicitStart *time.Time) (*VehicleJourney, error) {
	if !isNaiveUTC(since) || !isNaiveUTC(until) {
		return nil, ErrNotUTC
	}
	if explicitStart != nil && !isNaiveUTC(*explicitStart) {
		return nil, ErrNotUTC
	}

	vj := VehicleJourney{
		ID:        uuid.NewString(),
		TripID:    trip.ID,
		BaseStops: trip.StopTimes,
	}

	if len(trip.StopTimes) == 0 && explicitStart != nil {
		vj.StartTimestamp = *explicitStart
		return &vj, nil
	}
	if len(trip.StopTimes) == 0 {
		return nil, fmt.Errorf("trip %s: no base stop times and no explicit start", trip.ID)
	}

	first := trip.StopTimes[0]
	startTime := first.Arrival
	if startTime == nil {
		startTime = first.Departure
	}
	if startTime == nil {
		return nil, fmt.Errorf("trip %s: first stop has neither arrival nor departure time", trip.ID)
	}

	// if since = 20010102T2300 and the trip starts at 0200, the actual start
	// is 20010103T0200: add one day when the candidate lands before since
	vj.StartTimestamp = startTime.At(since)
	if vj.StartTimestamp.Before(since) {
		vj.StartTimestamp = vj.StartTimestamp.AddDate(0, 0, 1)
	}
	if until.Before(vj.StartTimestamp) {
		return nil, fmt.Errorf("trip %s on period [%s, %s]: %w",
			trip.ID, since.Format(time.RFC3339), until.Format(time.RFC3339), ErrCirculationDate)
	}
	return &vj, nil
}

// CirculationDate is the UTC service date of the journey
func (vj *VehicleJourney) CirculationDate() time.Time {
	start := vj.StartTimestamp
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
}

func isNaiveUTC(t time.Time) bool {
	return t.Location() == time.UTC
}
