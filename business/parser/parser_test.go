package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

// fakeTimetable serves trips from a map, mimicking the timetable service
type fakeTimetable struct {
	trips map[string]*timetable.Trip
}

func (f *fakeTimetable) TripByID(_ context.Context, tripID string, _ time.Time, _ time.Time) (*timetable.Trip, error) {
	trip, present := f.trips[tripID]
	if !present {
		return nil, timetable.ErrTripNotFound
	}
	return trip, nil
}

func tod(hour, minute int) *timetable.TimeOfDay {
	t := timetable.NewTimeOfDay(hour, minute, 0)
	return &t
}

func testContributor(connector rt.ConnectorType) *rt.Contributor {
	return &rt.Contributor{
		ID:            "rt.contrib",
		Coverage:      "coverage",
		ConnectorType: connector,
		IsActive:      true,
	}
}

func testFakeTimetable() *fakeTimetable {
	return &fakeTimetable{
		trips: map[string]*timetable.Trip{
			"trip:1": {
				ID: "trip:1",
				StopTimes: []timetable.StopTime{
					{StopID: "A", Departure: tod(8, 10)},
					{StopID: "B", Arrival: tod(9, 5), Departure: tod(9, 10)},
					{StopID: "C", Arrival: tod(10, 5)},
				},
			},
		},
	}
}

func TestNewPicksBuilderByConnector(t *testing.T) {
	tt := testFakeTimetable()

	rail, err := New(testContributor(rt.ConnectorRail), tt)
	require.NoError(t, err)
	assert.Equal(t, rt.ConnectorRail, rail.Connector())
	assert.True(t, rail.Complete())

	operator, err := New(testContributor(rt.ConnectorOperator), tt)
	require.NoError(t, err)
	assert.Equal(t, rt.ConnectorOperator, operator.Connector())
	assert.False(t, operator.Complete())

	_, err = New(&rt.Contributor{ID: "x", ConnectorType: "teleporter"}, tt)
	assert.Error(t, err)
}

func TestRailBuilderCompleteTrip(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorRail), testFakeTimetable())
	require.NoError(t, err)

	payload := []byte(`{
		"trips": [{
			"trip_id": "trip:1",
			"circulation_date": "2012-06-20",
			"status": "update",
			"stops": [
				{"stop_id": "A", "order": 0},
				{"stop_id": "B", "order": 1,
				 "arrival_delay": 600, "departure_delay": 600,
				 "arrival_status": "update", "departure_status": "update"},
				{"stop_id": "C", "order": 2}
			]
		}]
	}`)

	tripUpdates, err := builder.BuildTripUpdates(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, tripUpdates, 1)

	tu := tripUpdates[0]
	assert.Equal(t, rt.TripStatusUpdate, tu.Status)
	assert.Equal(t, "rt.contrib", tu.ContributorID)
	assert.Equal(t, time.Date(2012, 6, 20, 8, 10, 0, 0, time.UTC), tu.VJ.StartTimestamp)
	require.Len(t, tu.StopTimeUpdates, 3)
	assert.Equal(t, 10*time.Minute, tu.StopTimeUpdates[1].ArrivalDelay)
	assert.Equal(t, rt.StopEventUpdate, tu.StopTimeUpdates[1].ArrivalStatus)
	assert.Equal(t, rt.EffectSignificantDelays, *tu.Effect)
}

func TestRailBuilderInvalidJSON(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorRail), testFakeTimetable())
	require.NoError(t, err)

	_, err = builder.BuildTripUpdates(context.Background(), []byte(`{not json`))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestRailBuilderUnknownTrip(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorRail), testFakeTimetable())
	require.NoError(t, err)

	payload := []byte(`{"trips": [{"trip_id": "trip:ghost", "circulation_date": "2012-06-20",
		"stops": [{"stop_id": "A"}]}]}`)
	_, err = builder.BuildTripUpdates(context.Background(), payload)
	assert.True(t, errors.Is(err, ErrUnknownTarget))
}

func TestRailBuilderAddedTrip(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorRail), testFakeTimetable())
	require.NoError(t, err)

	payload := []byte(`{
		"trips": [{
			"trip_id": "trip:extra",
			"status": "add",
			"start": "2012-06-20T14:30:00Z",
			"physical_mode_id": "physical_mode:LongDistanceTrain",
			"stops": [
				{"stop_id": "A", "order": 0, "departure": "2012-06-20T14:30:00Z",
				 "arrival_status": "add", "departure_status": "add"},
				{"stop_id": "C", "order": 1, "arrival": "2012-06-20T16:00:00Z",
				 "arrival_status": "add", "departure_status": "add"}
			]
		}]
	}`)

	tripUpdates, err := builder.BuildTripUpdates(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, tripUpdates, 1)

	tu := tripUpdates[0]
	assert.Equal(t, rt.TripStatusAdd, tu.Status)
	assert.Equal(t, time.Date(2012, 6, 20, 14, 30, 0, 0, time.UTC), tu.VJ.StartTimestamp)
	assert.Empty(t, tu.VJ.BaseStops)
	assert.Equal(t, rt.EffectAdditionalService, *tu.Effect)
}

func TestRailBuilderAddedTripWithoutStart(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorRail), testFakeTimetable())
	require.NoError(t, err)

	payload := []byte(`{"trips": [{"trip_id": "trip:extra", "status": "add",
		"stops": [{"stop_id": "A"}]}]}`)
	_, err = builder.BuildTripUpdates(context.Background(), payload)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestOperatorBuilderIncrementalDelay(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorOperator), testFakeTimetable())
	require.NoError(t, err)

	payload := []byte(`{
		"trip_id": "trip:1",
		"circulation_date": "2012-06-20",
		"stops": [{"stop_id": "B", "arrival_delay": 600, "departure_delay": 600}]
	}`)

	tripUpdates, err := builder.BuildTripUpdates(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, tripUpdates, 1)

	tu := tripUpdates[0]
	assert.Equal(t, rt.TripStatusUpdate, tu.Status)
	require.Len(t, tu.StopTimeUpdates, 1)
	// a bare delay is an implicit update
	assert.Equal(t, rt.StopEventUpdate, tu.StopTimeUpdates[0].ArrivalStatus)
	assert.Equal(t, rt.StopEventUpdate, tu.StopTimeUpdates[0].DepartureStatus)
	assert.Equal(t, rt.EffectSignificantDelays, *tu.Effect)
}

func TestOperatorBuilderRequiresTripID(t *testing.T) {
	builder, err := New(testContributor(rt.ConnectorOperator), testFakeTimetable())
	require.NoError(t, err)

	_, err = builder.BuildTripUpdates(context.Background(), []byte(`{"circulation_date": "2012-06-20"}`))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDeriveEffect(t *testing.T) {
	detourStop := rt.NewStopTimeUpdate("X", 0)
	detourStop.ArrivalStatus = rt.StopEventAddedForDetour

	deletedStop := rt.NewStopTimeUpdate("Y", 0)
	deletedStop.ArrivalStatus = rt.StopEventDelete

	delayedStop := rt.NewStopTimeUpdate("Z", 0)
	delayedStop.ArrivalDelay = 5 * time.Minute

	tests := []struct {
		name   string
		status rt.TripStatus
		stops  []*rt.StopTimeUpdate
		want   rt.Effect
	}{
		{name: "delete", status: rt.TripStatusDelete, want: rt.EffectNoService},
		{name: "add", status: rt.TripStatusAdd, want: rt.EffectAdditionalService},
		{name: "detour", status: rt.TripStatusUpdate, stops: []*rt.StopTimeUpdate{detourStop}, want: rt.EffectDetour},
		{name: "reduced", status: rt.TripStatusUpdate, stops: []*rt.StopTimeUpdate{deletedStop}, want: rt.EffectReducedService},
		{name: "delays", status: rt.TripStatusUpdate, stops: []*rt.StopTimeUpdate{delayedStop}, want: rt.EffectSignificantDelays},
		{name: "nothing", status: rt.TripStatusUpdate, want: rt.EffectUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveEffect(tt.status, tt.stops))
		})
	}
}
