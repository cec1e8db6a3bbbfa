// Package rtext declares the vendor extension fields the downstream trip
// planner reads off the transit-realtime feed. The fields live in the
// extension range the transit-realtime spec reserves for producers, the
// descriptors here mirror the planner's extension proto.
package rtext

import (
	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/runtime/protoimpl"
)

// StopTimeEventStatus qualifies one arrival or departure beyond the standard
// schedule relationship
type StopTimeEventStatus int32

const (
	StopTimeEventScheduled        StopTimeEventStatus = 0
	StopTimeEventAdded            StopTimeEventStatus = 1
	StopTimeEventAddedForDetour   StopTimeEventStatus = 2
	StopTimeEventDeleted          StopTimeEventStatus = 3
	StopTimeEventDeletedForDetour StopTimeEventStatus = 4
)

// E_TripMessage carries the free-text disruption message on a trip update
var E_TripMessage = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.TripUpdate)(nil),
	ExtensionType: (*string)(nil),
	Field:         1000,
	Name:          "transit_realtime.trip_message",
	Tag:           "bytes,1000,opt,name=trip_message",
	Filename:      "rtext.proto",
}

// E_TripEffect carries the trip effect as a transit_realtime.Alert.Effect value
var E_TripEffect = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.TripUpdate)(nil),
	ExtensionType: (*int32)(nil),
	Field:         1001,
	Name:          "transit_realtime.trip_effect",
	Tag:           "varint,1001,opt,name=trip_effect",
	Filename:      "rtext.proto",
}

// E_Contributor identifies the producing contributor on the trip descriptor
var E_Contributor = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.TripDescriptor)(nil),
	ExtensionType: (*string)(nil),
	Field:         1000,
	Name:          "transit_realtime.contributor",
	Tag:           "bytes,1000,opt,name=contributor",
	Filename:      "rtext.proto",
}

// E_CompanyID carries the operating company on the trip descriptor
var E_CompanyID = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.TripDescriptor)(nil),
	ExtensionType: (*string)(nil),
	Field:         1001,
	Name:          "transit_realtime.company_id",
	Tag:           "bytes,1001,opt,name=company_id",
	Filename:      "rtext.proto",
}

// E_StopTimeMessage carries the per-stop disruption message
var E_StopTimeMessage = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.TripUpdate_StopTimeUpdate)(nil),
	ExtensionType: (*string)(nil),
	Field:         1000,
	Name:          "transit_realtime.stoptime_message",
	Tag:           "bytes,1000,opt,name=stoptime_message",
	Filename:      "rtext.proto",
}

// E_StopTimeEventStatus flags one arrival or departure with a
// StopTimeEventStatus value
var E_StopTimeEventStatus = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.TripUpdate_StopTimeEvent)(nil),
	ExtensionType: (*int32)(nil),
	Field:         1000,
	Name:          "transit_realtime.stop_time_event_status",
	Tag:           "varint,1000,opt,name=stop_time_event_status",
	Filename:      "rtext.proto",
}

// E_PhysicalModeID carries the physical mode of an added trip on the vehicle
// descriptor
var E_PhysicalModeID = &protoimpl.ExtensionInfo{
	ExtendedType:  (*gtfs.VehicleDescriptor)(nil),
	ExtensionType: (*string)(nil),
	Field:         1000,
	Name:          "transit_realtime.physical_mode_id",
	Tag:           "bytes,1000,opt,name=physical_mode_id",
	Filename:      "rtext.proto",
}
