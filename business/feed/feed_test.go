package feed

import (
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/feed/rtext"
)

func testTripUpdate(status rt.TripStatus) *rt.TripUpdate {
	start := time.Date(2012, 6, 20, 8, 10, 0, 0, time.UTC)
	tu := &rt.TripUpdate{
		VJ: &rt.VehicleJourney{
			ID:             "vj-1",
			TripID:         "trip:1",
			StartTimestamp: start,
		},
		Status:        status,
		ContributorID: "rt.contrib",
	}
	if status == rt.TripStatusDelete {
		return tu
	}
	arrival := time.Date(2012, 6, 20, 9, 15, 0, 0, time.UTC)
	departure := time.Date(2012, 6, 20, 9, 20, 0, 0, time.UTC)
	st := rt.NewStopTimeUpdate("B", 0)
	st.Arrival = &arrival
	st.ArrivalDelay = 10 * time.Minute
	st.ArrivalStatus = rt.StopEventUpdate
	st.Departure = &departure
	st.DepartureDelay = 10 * time.Minute
	st.DepartureStatus = rt.StopEventUpdate
	tu.StopTimeUpdates = []*rt.StopTimeUpdate{st}
	return tu
}

func TestNewFeedMessageHeader(t *testing.T) {
	now := time.Date(2012, 6, 20, 10, 0, 0, 0, time.UTC)
	feedMessage := NewFeedMessage(now, []*rt.TripUpdate{testTripUpdate(rt.TripStatusUpdate)})

	require.NotNil(t, feedMessage.Header)
	assert.Equal(t, gtfs.FeedHeader_DIFFERENTIAL, feedMessage.Header.GetIncrementality())
	assert.Equal(t, uint64(now.Unix()), feedMessage.Header.GetTimestamp())
	assert.Len(t, feedMessage.Entity, 1)
}

func TestTripUpdateEntity(t *testing.T) {
	now := time.Date(2012, 6, 20, 10, 0, 0, 0, time.UTC)
	feedMessage := NewFeedMessage(now, []*rt.TripUpdate{testTripUpdate(rt.TripStatusUpdate)})

	entity := feedMessage.Entity[0]
	tripUpdate := entity.GetTripUpdate()
	require.NotNil(t, tripUpdate)
	assert.Equal(t, "trip:1", tripUpdate.GetTrip().GetTripId())
	assert.Equal(t, "20120620", tripUpdate.GetTrip().GetStartDate())
	assert.Equal(t, gtfs.TripDescriptor_SCHEDULED, tripUpdate.GetTrip().GetScheduleRelationship())
	assert.Equal(t, "rt.contrib", proto.GetExtension(tripUpdate.GetTrip(), rtext.E_Contributor))

	require.Len(t, tripUpdate.GetStopTimeUpdate(), 1)
	stop := tripUpdate.GetStopTimeUpdate()[0]
	assert.Equal(t, "B", stop.GetStopId())
	arrival := stop.GetArrival()
	require.NotNil(t, arrival)
	assert.Equal(t, int64(1340183700), arrival.GetTime())
	assert.Equal(t, int32(600), arrival.GetDelay())
}

func TestCancelledTripEntity(t *testing.T) {
	now := time.Date(2012, 6, 20, 10, 0, 0, 0, time.UTC)
	cancelled := testTripUpdate(rt.TripStatusDelete)
	effect := rt.EffectNoService
	cancelled.Effect = &effect
	feedMessage := NewFeedMessage(now, []*rt.TripUpdate{cancelled})

	tripUpdate := feedMessage.Entity[0].GetTripUpdate()
	assert.Equal(t, gtfs.TripDescriptor_CANCELED, tripUpdate.GetTrip().GetScheduleRelationship())
	assert.Empty(t, tripUpdate.GetStopTimeUpdate())
	assert.Equal(t, int32(gtfs.Alert_NO_SERVICE), proto.GetExtension(tripUpdate, rtext.E_TripEffect))
}

func TestAddedTripGetsAdditionalService(t *testing.T) {
	now := time.Date(2012, 6, 20, 10, 0, 0, 0, time.UTC)
	added := testTripUpdate(rt.TripStatusAdd)
	mode := "physical_mode:LongDistanceTrain"
	added.PhysicalModeID = &mode
	feedMessage := NewFeedMessage(now, []*rt.TripUpdate{added})

	tripUpdate := feedMessage.Entity[0].GetTripUpdate()
	assert.Equal(t, int32(gtfs.Alert_ADDITIONAL_SERVICE), proto.GetExtension(tripUpdate, rtext.E_TripEffect))
	require.NotNil(t, tripUpdate.GetVehicle())
	assert.Equal(t, mode, proto.GetExtension(tripUpdate.GetVehicle(), rtext.E_PhysicalModeID))
}

func TestStopEventStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		give rt.StopEventStatus
		want rtext.StopTimeEventStatus
	}{
		{name: "none is scheduled", give: rt.StopEventNone, want: rtext.StopTimeEventScheduled},
		{name: "update is scheduled", give: rt.StopEventUpdate, want: rtext.StopTimeEventScheduled},
		{name: "add", give: rt.StopEventAdd, want: rtext.StopTimeEventAdded},
		{name: "added for detour", give: rt.StopEventAddedForDetour, want: rtext.StopTimeEventAddedForDetour},
		{name: "delete", give: rt.StopEventDelete, want: rtext.StopTimeEventDeleted},
		{name: "deleted for detour", give: rt.StopEventDeletedForDetour, want: rtext.StopTimeEventDeletedForDetour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventStatus(tt.give))
		})
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	now := time.Date(2012, 6, 20, 10, 0, 0, 0, time.UTC)
	data, err := Marshal(now, []*rt.TripUpdate{testTripUpdate(rt.TripStatusUpdate)})
	require.NoError(t, err)

	var decoded gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Entity, 1)
	assert.Equal(t, "trip:1", decoded.Entity[0].GetTripUpdate().GetTrip().GetTripId())
}
