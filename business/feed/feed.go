// Package feed serializes persisted trip updates into a transit-realtime
// protocol buffer feed for downstream trip planners.
package feed

import (
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/feed/rtext"
)

const gtfsRealtimeVersion = "2.0"

// NewFeedMessage builds a DIFFERENTIAL feed covering the given trip updates
func NewFeedMessage(at time.Time, tripUpdates []*rt.TripUpdate) *gtfs.FeedMessage {
	version := gtfsRealtimeVersion
	incrementality := gtfs.FeedHeader_DIFFERENTIAL
	timestamp := uint64(at.Unix())
	feedMessage := gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: &version,
			Incrementality:      &incrementality,
			Timestamp:           &timestamp,
		},
		Entity: []*gtfs.FeedEntity{},
	}
	for _, tripUpdate := range tripUpdates {
		feedMessage.Entity = append(feedMessage.Entity, makeTripUpdateFeedEntity(tripUpdate))
	}
	return &feedMessage
}

// Marshal serializes a feed covering tripUpdates to the binary wire format
func Marshal(at time.Time, tripUpdates []*rt.TripUpdate) ([]byte, error) {
	return proto.Marshal(NewFeedMessage(at, tripUpdates))
}

// makeTripUpdateFeedEntity creates one gtfs.FeedEntity from a rt.TripUpdate
func makeTripUpdateFeedEntity(tripUpdate *rt.TripUpdate) *gtfs.FeedEntity {
	entityID := tripUpdate.VJ.ID
	startDate := tripUpdate.VJ.StartTimestamp.Format("20060102")
	startTime := tripUpdate.VJ.StartTimestamp.Format("15:04:05")

	tripScheduleRelationship := gtfs.TripDescriptor_SCHEDULED
	if tripUpdate.Status == rt.TripStatusDelete {
		tripScheduleRelationship = gtfs.TripDescriptor_CANCELED
	}

	tripID := tripUpdate.VJ.TripID
	tripDescriptor := gtfs.TripDescriptor{
		TripId:               &tripID,
		StartDate:            &startDate,
		StartTime:            &startTime,
		ScheduleRelationship: &tripScheduleRelationship,
	}
	proto.SetExtension(&tripDescriptor, rtext.E_Contributor, tripUpdate.ContributorID)
	if tripUpdate.CompanyID != nil {
		proto.SetExtension(&tripDescriptor, rtext.E_CompanyID, *tripUpdate.CompanyID)
	}

	pbTripUpdate := gtfs.TripUpdate{
		Trip:           &tripDescriptor,
		StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{},
	}
	if tripUpdate.Message != nil {
		proto.SetExtension(&pbTripUpdate, rtext.E_TripMessage, *tripUpdate.Message)
	}
	if effect := effectValue(tripUpdate); effect != nil {
		proto.SetExtension(&pbTripUpdate, rtext.E_TripEffect, int32(*effect))
	}
	if tripUpdate.PhysicalModeID != nil {
		vehicle := gtfs.VehicleDescriptor{}
		proto.SetExtension(&vehicle, rtext.E_PhysicalModeID, *tripUpdate.PhysicalModeID)
		pbTripUpdate.Vehicle = &vehicle
	}

	for _, stopTimeUpdate := range tripUpdate.StopTimeUpdates {
		pbTripUpdate.StopTimeUpdate = append(pbTripUpdate.StopTimeUpdate, makeStopTimeUpdate(stopTimeUpdate))
	}

	return &gtfs.FeedEntity{
		Id:         &entityID,
		TripUpdate: &pbTripUpdate,
	}
}

func makeStopTimeUpdate(stopTimeUpdate *rt.StopTimeUpdate) *gtfs.TripUpdate_StopTimeUpdate {
	stopID := stopTimeUpdate.StopID
	stopSequence := uint32(stopTimeUpdate.Order)
	pbStop := gtfs.TripUpdate_StopTimeUpdate{
		StopSequence: &stopSequence,
		StopId:       &stopID,
	}
	pbStop.Arrival = makeStopTimeEvent(stopTimeUpdate.Arrival, stopTimeUpdate.ArrivalDelay, stopTimeUpdate.ArrivalStatus)
	pbStop.Departure = makeStopTimeEvent(stopTimeUpdate.Departure, stopTimeUpdate.DepartureDelay, stopTimeUpdate.DepartureStatus)
	if stopTimeUpdate.Message != nil {
		proto.SetExtension(&pbStop, rtext.E_StopTimeMessage, *stopTimeUpdate.Message)
	}
	return &pbStop
}

func makeStopTimeEvent(at *time.Time, delay time.Duration, status rt.StopEventStatus) *gtfs.TripUpdate_StopTimeEvent {
	event := gtfs.TripUpdate_StopTimeEvent{}
	if at != nil {
		unix := at.Unix()
		event.Time = &unix
	}
	delaySeconds := int32(delay / time.Second)
	event.Delay = &delaySeconds
	proto.SetExtension(&event, rtext.E_StopTimeEventStatus, int32(eventStatus(status)))
	return &event
}

// eventStatus maps the stored stop event status onto the feed extension enum
func eventStatus(status rt.StopEventStatus) rtext.StopTimeEventStatus {
	switch status {
	case rt.StopEventAdd:
		return rtext.StopTimeEventAdded
	case rt.StopEventAddedForDetour:
		return rtext.StopTimeEventAddedForDetour
	case rt.StopEventDelete:
		return rtext.StopTimeEventDeleted
	case rt.StopEventDeletedForDetour:
		return rtext.StopTimeEventDeletedForDetour
	default:
		return rtext.StopTimeEventScheduled
	}
}

// effectValue resolves the Alert.Effect value published for the trip. An added
// trip is always published as ADDITIONAL_SERVICE.
func effectValue(tripUpdate *rt.TripUpdate) *gtfs.Alert_Effect {
	if tripUpdate.Status == rt.TripStatusAdd {
		effect := gtfs.Alert_ADDITIONAL_SERVICE
		return &effect
	}
	if tripUpdate.Effect == nil {
		return nil
	}
	var effect gtfs.Alert_Effect
	switch *tripUpdate.Effect {
	case rt.EffectSignificantDelays:
		effect = gtfs.Alert_SIGNIFICANT_DELAYS
	case rt.EffectDetour:
		effect = gtfs.Alert_DETOUR
	case rt.EffectReducedService:
		effect = gtfs.Alert_REDUCED_SERVICE
	case rt.EffectModifiedService:
		effect = gtfs.Alert_MODIFIED_SERVICE
	case rt.EffectNoService:
		effect = gtfs.Alert_NO_SERVICE
	case rt.EffectAdditionalService:
		effect = gtfs.Alert_ADDITIONAL_SERVICE
	default:
		effect = gtfs.Alert_UNKNOWN_EFFECT
	}
	return &effect
}
