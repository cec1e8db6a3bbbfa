// Package rt provides the realtime trip state model and its CRUD functionality
package rt

import (
	"errors"
)

// TripStatus is the trip-level modification carried by a TripUpdate
type TripStatus string

const (
	TripStatusNone   TripStatus = "none"
	TripStatusUpdate TripStatus = "update"
	TripStatusDelete TripStatus = "delete"
	TripStatusAdd    TripStatus = "add"
)

// StopEventStatus is the modification carried by one arrival or departure
// within a StopTimeUpdate
type StopEventStatus string

const (
	StopEventNone             StopEventStatus = "none"
	StopEventUpdate           StopEventStatus = "update"
	StopEventDelete           StopEventStatus = "delete"
	StopEventDeletedForDetour StopEventStatus = "deleted_for_detour"
	StopEventAdd              StopEventStatus = "add"
	StopEventAddedForDetour   StopEventStatus = "added_for_detour"
)

// IsDeleted reports whether the status marks the event as not served
func (s StopEventStatus) IsDeleted() bool {
	return s == StopEventDelete || s == StopEventDeletedForDetour
}

// IsAdded reports whether the status marks the event as not part of the base schedule
func (s StopEventStatus) IsAdded() bool {
	return s == StopEventAdd || s == StopEventAddedForDetour
}

// Effect classifies the realtime impact on a trip, values follow the
// transit-realtime Alert.Effect enum
type Effect string

const (
	EffectSignificantDelays Effect = "SIGNIFICANT_DELAYS"
	EffectDetour            Effect = "DETOUR"
	EffectReducedService    Effect = "REDUCED_SERVICE"
	EffectModifiedService   Effect = "MODIFIED_SERVICE"
	EffectNoService         Effect = "NO_SERVICE"
	EffectAdditionalService Effect = "ADDITIONAL_SERVICE"
	EffectUnknown           Effect = "UNKNOWN_EFFECT"
)

// RTStatus is the processing outcome recorded on a RealTimeUpdate row
type RTStatus string

const (
	RTStatusOK      RTStatus = "OK"
	RTStatusKO      RTStatus = "KO"
	RTStatusPending RTStatus = "pending"
)

// ConnectorType identifies the upstream feed format a contributor produces
type ConnectorType string

const (
	// ConnectorRail is the broker-fed railway connector, feeds carry complete trips
	ConnectorRail ConnectorType = "rail"
	// ConnectorOperator is the HTTP push connector, feeds are incremental
	ConnectorOperator ConnectorType = "operator"
)

// Retention defaults, overridable per contributor row
const (
	DefaultDaysToKeepTripUpdates = 3
	DefaultDaysToKeepRTUpdates   = 30
)

// ErrNotUTC is raised when a timezone-bearing datetime reaches a place that
// requires naive UTC. All persisted datetimes are naive UTC.
var ErrNotUTC = errors.New("invalid datetime provided: must be naive UTC")

// ErrCirculationDate is returned when the circulation date of a vehicle
// journey cannot be resolved within the search window
var ErrCirculationDate = errors.New("circulation date unresolvable")
