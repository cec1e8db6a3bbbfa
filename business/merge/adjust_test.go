package merge

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

func adjustableTripUpdate(t *testing.T, stops ...*rt.StopTimeUpdate) *rt.TripUpdate {
	t.Helper()
	trip := &timetable.Trip{
		ID: "trip:adjust",
		StopTimes: []timetable.StopTime{
			{StopID: "A", Departure: tod(8, 0)},
		},
	}
	vj, err := rt.NewVehicleJourney(trip, dt(20, 0, 0), dt(21, 0, 0), nil)
	if err != nil {
		t.Fatalf("building vehicle journey: %v", err)
	}
	tu := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	tu.StopTimeUpdates = stops
	return tu
}

func TestAdjustRejectsOrderMismatch(t *testing.T) {
	is := is.New(t)
	first := rt.NewStopTimeUpdate("A", 0)
	first.Arrival = dtp(20, 8, 0)
	second := rt.NewStopTimeUpdate("B", 2) // hole in the sequence
	second.Arrival = dtp(20, 9, 0)
	tu := adjustableTripUpdate(t, first, second)

	is.Equal(Adjust(testLog, tu), false)
}

func TestAdjustBorrowsMissingTimes(t *testing.T) {
	is := is.New(t)
	first := rt.NewStopTimeUpdate("A", 0)
	first.Departure = dtp(20, 8, 0)
	first.DepartureDelay = 5 * time.Minute
	second := rt.NewStopTimeUpdate("B", 1) // nothing at all, borrows from A
	tu := adjustableTripUpdate(t, first, second)

	is.True(Adjust(testLog, tu))

	// arrival borrowed from the same stop's departure, delay follows
	is.Equal(*first.Arrival, dt(20, 8, 0))
	is.Equal(first.ArrivalDelay, 5*time.Minute)
	// B borrowed everything from A's departure
	is.Equal(*second.Arrival, dt(20, 8, 0))
	is.Equal(*second.Departure, dt(20, 8, 0))
}

func TestAdjustRejectsWhenNothingToBorrow(t *testing.T) {
	is := is.New(t)
	first := rt.NewStopTimeUpdate("A", 0) // no times anywhere
	tu := adjustableTripUpdate(t, first)

	is.Equal(Adjust(testLog, tu), false)
}

func TestAdjustInterStopMonotonicity(t *testing.T) {
	is := is.New(t)
	first := rt.NewStopTimeUpdate("A", 0)
	first.Arrival = dtp(20, 8, 0)
	first.Departure = dtp(20, 8, 30)
	second := rt.NewStopTimeUpdate("B", 1)
	second.Arrival = dtp(20, 8, 10) // before A's departure
	second.Departure = dtp(20, 8, 40)
	tu := adjustableTripUpdate(t, first, second)

	is.True(Adjust(testLog, tu))

	// B's arrival pushed forward by the 20 minute excess
	is.Equal(*second.Arrival, dt(20, 8, 30))
	is.Equal(second.ArrivalDelay, 20*time.Minute)
	is.Equal(*second.Departure, dt(20, 8, 40))
}

func TestAdjustIntraStopMonotonicity(t *testing.T) {
	is := is.New(t)
	first := rt.NewStopTimeUpdate("A", 0)
	first.Arrival = dtp(20, 9, 0)
	first.Departure = dtp(20, 8, 45) // departs before arriving
	tu := adjustableTripUpdate(t, first)

	is.True(Adjust(testLog, tu))

	is.Equal(*first.Departure, dt(20, 9, 0))
	is.Equal(first.DepartureDelay, 15*time.Minute)
}

func TestAdjustDefaultsDelaysToZero(t *testing.T) {
	is := is.New(t)
	first := rt.NewStopTimeUpdate("A", 0)
	first.Arrival = dtp(20, 8, 0)
	tu := adjustableTripUpdate(t, first)

	is.True(Adjust(testLog, tu))
	is.Equal(first.ArrivalDelay, time.Duration(0))
	is.Equal(first.DepartureDelay, time.Duration(0))
}
