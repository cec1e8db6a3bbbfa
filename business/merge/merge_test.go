package merge

import (
	logger "log"
	"os"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

var testLog = logger.New(os.Stdout, "TEST : ", logger.LstdFlags)

func tod(hour, minute int) *timetable.TimeOfDay {
	t := timetable.NewTimeOfDay(hour, minute, 0)
	return &t
}

func dt(day, hour, minute int) time.Time {
	return time.Date(2012, 6, day, hour, minute, 0, 0, time.UTC)
}

func dtp(day, hour, minute int) *time.Time {
	t := dt(day, hour, minute)
	return &t
}

// threeStopJourney is the A-B-C base circulation used through most merge tests:
// A departs 08:10, B 09:05/09:10, C arrives 10:05, all on 2012-06-20
func threeStopJourney(t *testing.T) *rt.VehicleJourney {
	t.Helper()
	trip := &timetable.Trip{
		ID: "trip:1",
		StopTimes: []timetable.StopTime{
			{StopID: "A", Departure: tod(8, 10)},
			{StopID: "B", Arrival: tod(9, 5), Departure: tod(9, 10)},
			{StopID: "C", Arrival: tod(10, 5)},
		},
	}
	vj, err := rt.NewVehicleJourney(trip, dt(20, 0, 0), dt(21, 0, 0), nil)
	if err != nil {
		t.Fatalf("building vehicle journey: %v", err)
	}
	return vj
}

func delayedStop(stopID string, order int, delayMinutes int) *rt.StopTimeUpdate {
	st := rt.NewStopTimeUpdate(stopID, order)
	st.ArrivalStatus = rt.StopEventUpdate
	st.DepartureStatus = rt.StopEventUpdate
	st.ArrivalDelay = time.Duration(delayMinutes) * time.Minute
	st.DepartureDelay = time.Duration(delayMinutes) * time.Minute
	return st
}

func mergeAndAdjust(t *testing.T, old *rt.TripUpdate, incoming *rt.TripUpdate, complete bool) *rt.TripUpdate {
	t.Helper()
	merged := Merge(testLog, old, incoming, complete)
	if merged == nil {
		t.Fatalf("expected a merged trip update, got nil")
	}
	if !Adjust(testLog, merged) {
		t.Fatalf("adjust rejected the merged trip update")
	}
	return merged
}

func TestMergeDelayOnOneStop(t *testing.T) {
	is := is.New(t)
	vj := threeStopJourney(t)

	incoming := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	incoming.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("B", 0, 10)}
	effect := rt.EffectSignificantDelays
	incoming.Effect = &effect

	result := mergeAndAdjust(t, nil, incoming, false)

	is.Equal(len(result.StopTimeUpdates), 3)
	is.Equal(result.Status, rt.TripStatusUpdate)
	is.Equal(*result.Effect, rt.EffectSignificantDelays)

	a, b, c := result.StopTimeUpdates[0], result.StopTimeUpdates[1], result.StopTimeUpdates[2]
	is.Equal(*a.Arrival, dt(20, 8, 10))
	is.Equal(*a.Departure, dt(20, 8, 10))
	is.Equal(*b.Arrival, dt(20, 9, 15))
	is.Equal(*b.Departure, dt(20, 9, 20))
	is.Equal(b.ArrivalDelay, 10*time.Minute)
	is.Equal(b.ArrivalStatus, rt.StopEventUpdate)
	is.Equal(*c.Arrival, dt(20, 10, 5))
	is.Equal(*c.Departure, dt(20, 10, 5))
	is.Equal(c.ArrivalStatus, rt.StopEventNone)

	// order indices are dense and zero based
	for index, st := range result.StopTimeUpdates {
		is.Equal(st.Order, index)
	}
}

func TestMergeCancelThenReactivate(t *testing.T) {
	is := is.New(t)
	vj := threeStopJourney(t)

	// first a delay lands
	first := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	first.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("B", 0, 10)}
	stored := mergeAndAdjust(t, nil, first, false)

	// then a full cancellation
	cancel := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusDelete)
	noService := rt.EffectNoService
	cancel.Effect = &noService
	stored = mergeAndAdjust(t, stored, cancel, false)
	is.Equal(stored.Status, rt.TripStatusDelete)
	is.Equal(len(stored.StopTimeUpdates), 0)
	is.Equal(*stored.Effect, rt.EffectNoService)

	// an update re-activates the trip, the stop sequence rematerializes from
	// base plus the update
	reactivate := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	reactivate.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("C", 0, 40)}
	delays := rt.EffectSignificantDelays
	reactivate.Effect = &delays
	stored = mergeAndAdjust(t, stored, reactivate, false)

	is.Equal(stored.Status, rt.TripStatusUpdate)
	is.Equal(len(stored.StopTimeUpdates), 3)
	a, b, c := stored.StopTimeUpdates[0], stored.StopTimeUpdates[1], stored.StopTimeUpdates[2]
	is.Equal(*a.Arrival, dt(20, 8, 10))
	is.Equal(*a.Departure, dt(20, 8, 10))
	is.Equal(*b.Arrival, dt(20, 9, 5))
	is.Equal(*b.Departure, dt(20, 9, 10))
	is.Equal(*c.Arrival, dt(20, 10, 45))
	is.Equal(*c.Departure, dt(20, 10, 45))
}

func TestMergeIdempotence(t *testing.T) {
	is := is.New(t)
	vj := threeStopJourney(t)

	first := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	first.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("B", 0, 10)}
	effect := rt.EffectSignificantDelays
	first.Effect = &effect
	stored := mergeAndAdjust(t, nil, first, false)

	// the same input again introduces no observable change
	repeat := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	repeat.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("B", 0, 10)}
	repeat.Effect = &effect
	is.Equal(Merge(testLog, stored, repeat, false), nil)
}

func TestMergeMessageOnlyChange(t *testing.T) {
	is := is.New(t)
	vj := threeStopJourney(t)

	completeStops := func() []*rt.StopTimeUpdate {
		return []*rt.StopTimeUpdate{
			rt.NewStopTimeUpdate("A", 0),
			rt.NewStopTimeUpdate("B", 1),
			rt.NewStopTimeUpdate("C", 2),
		}
	}

	first := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	first.StopTimeUpdates = completeStops()
	stored := mergeAndAdjust(t, nil, first, true)

	// a second complete feed differing only in its message commits one change
	second := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	second.StopTimeUpdates = completeStops()
	message := "the driver is on strike"
	second.Message = &message
	merged := Merge(testLog, stored, second, true)
	is.True(merged != nil)
	is.Equal(*merged.Message, message)

	// and repeating it is idempotent again
	third := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	third.StopTimeUpdates = completeStops()
	third.Message = &message
	is.Equal(Merge(testLog, stored, third, true), nil)

	// a complete feed clearing the message is a change too
	fourth := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	fourth.StopTimeUpdates = completeStops()
	merged = Merge(testLog, stored, fourth, true)
	is.True(merged != nil)
	is.Equal(merged.Message, nil)
}

func TestMergePastMidnight(t *testing.T) {
	is := is.New(t)
	trip := &timetable.Trip{
		ID: "trip:night",
		StopTimes: []timetable.StopTime{
			{StopID: "D", Departure: tod(22, 10)},
			{StopID: "E", Arrival: tod(2, 15)},
		},
	}
	vj, err := rt.NewVehicleJourney(trip, dt(20, 0, 0), dt(21, 0, 0), nil)
	is.NoErr(err)
	is.Equal(vj.StartTimestamp, dt(20, 22, 10))

	incoming := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	incoming.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("E", 0, 5)}
	result := mergeAndAdjust(t, nil, incoming, false)

	is.Equal(len(result.StopTimeUpdates), 2)
	d, e := result.StopTimeUpdates[0], result.StopTimeUpdates[1]
	// the circulation crosses midnight: E lands on the next calendar day
	is.Equal(*d.Departure, dt(20, 22, 10))
	is.Equal(*e.Arrival, dt(21, 2, 20))
	is.Equal(e.ArrivalDelay, 5*time.Minute)
}

func TestMergeDetourWithAddedStop(t *testing.T) {
	is := is.New(t)
	trip := &timetable.Trip{
		ID: "trip:detour",
		StopTimes: []timetable.StopTime{
			{StopID: "D", Departure: tod(23, 45)},
			{StopID: "E", Arrival: tod(0, 34), Departure: tod(0, 35)},
		},
	}
	vj, err := rt.NewVehicleJourney(trip, dt(20, 0, 0), dt(21, 0, 0), nil)
	is.NoErr(err)

	skippedD := rt.NewStopTimeUpdate("D", 0)
	skippedD.DepartureStatus = rt.StopEventDeletedForDetour

	addedX := rt.NewStopTimeUpdate("X", 1)
	addedX.ArrivalStatus = rt.StopEventAddedForDetour
	addedX.DepartureStatus = rt.StopEventAddedForDetour
	addedX.Arrival = dtp(21, 0, 15)
	addedX.Departure = dtp(21, 0, 15)

	unchangedE := rt.NewStopTimeUpdate("E", 2)

	incoming := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	incoming.StopTimeUpdates = []*rt.StopTimeUpdate{skippedD, addedX, unchangedE}
	detour := rt.EffectDetour
	incoming.Effect = &detour

	result := mergeAndAdjust(t, nil, incoming, true)

	is.Equal(len(result.StopTimeUpdates), 3)
	d, x, e := result.StopTimeUpdates[0], result.StopTimeUpdates[1], result.StopTimeUpdates[2]
	is.Equal(d.DepartureStatus, rt.StopEventDeletedForDetour)
	is.Equal(*d.Departure, dt(20, 23, 45))

	// the inserted stop resolves past midnight onto the next day
	is.Equal(x.ArrivalStatus, rt.StopEventAddedForDetour)
	is.Equal(x.DepartureStatus, rt.StopEventAddedForDetour)
	is.Equal(*x.Arrival, dt(21, 0, 15))
	is.Equal(*x.Departure, dt(21, 0, 15))

	is.Equal(*e.Arrival, dt(21, 0, 34))
	is.Equal(*e.Departure, dt(21, 0, 35))
	is.Equal(e.ArrivalStatus, rt.StopEventNone)
	is.Equal(*result.Effect, rt.EffectDetour)
}

func TestMergeKeepsStoredStopsOnPartialUpdate(t *testing.T) {
	is := is.New(t)
	vj := threeStopJourney(t)

	first := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	first.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("B", 0, 10)}
	stored := mergeAndAdjust(t, nil, first, false)
	storedB := stored.FindStop("B", 1)

	// a later update touching only C must keep B's recorded delay
	second := rt.NewTripUpdate(vj, "rt.contrib", rt.TripStatusUpdate)
	second.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("C", 0, 40)}
	stored = mergeAndAdjust(t, stored, second, false)

	b := stored.FindStop("B", 1)
	is.Equal(b, storedB)
	is.Equal(b.ArrivalDelay, 10*time.Minute)
	c := stored.FindStop("C", 2)
	is.Equal(*c.Arrival, dt(20, 10, 45))
}

func TestMergeContributorAdopted(t *testing.T) {
	is := is.New(t)
	vj := threeStopJourney(t)

	incoming := rt.NewTripUpdate(vj, "rt.newcontrib", rt.TripStatusUpdate)
	incoming.StopTimeUpdates = []*rt.StopTimeUpdate{delayedStop("B", 0, 10)}
	result := mergeAndAdjust(t, nil, incoming, false)
	is.Equal(result.ContributorID, "rt.newcontrib")
}
