// Package parser turns vendor payloads into trip updates attached to their
// dated vehicle journeys.
package parser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

// ErrInvalidInput reports a payload the connector could not interpret. The raw
// payload is persisted with status KO and the same input is never retried.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnknownTarget reports a payload referencing a trip the base timetable
// does not know
var ErrUnknownTarget = errors.New("unknown target")

// Builder interprets one contributor's payloads
type Builder interface {
	// Connector is the feed format tag this builder accepts
	Connector() rt.ConnectorType
	// Complete reports whether built trip updates carry the full stop sequence
	Complete() bool
	// BuildTripUpdates parses raw and returns trip updates attached to their
	// vehicle journeys. The trip updates are not yet linked to a raw update row.
	BuildTripUpdates(ctx context.Context, raw []byte) ([]*rt.TripUpdate, error)
}

// New returns the Builder matching the contributor's connector type
func New(contributor *rt.Contributor, tt timetable.Service) (Builder, error) {
	switch contributor.ConnectorType {
	case rt.ConnectorRail:
		return newRailBuilder(contributor, tt), nil
	case rt.ConnectorOperator:
		return newOperatorBuilder(contributor, tt), nil
	}
	return nil, fmt.Errorf("no builder for connector type %q", contributor.ConnectorType)
}

// searchWindow is the circulation search period for a service date, journeys
// start within 24h of the date's UTC midnight
func searchWindow(date time.Time) (time.Time, time.Time) {
	since := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return since, since.AddDate(0, 0, 1)
}

// parseStatus validates a trip-level status string, empty means update
func parseStatus(s string) (rt.TripStatus, error) {
	switch s {
	case "":
		return rt.TripStatusUpdate, nil
	case string(rt.TripStatusNone), string(rt.TripStatusUpdate), string(rt.TripStatusDelete), string(rt.TripStatusAdd):
		return rt.TripStatus(s), nil
	}
	return "", fmt.Errorf("unknown trip status %q: %w", s, ErrInvalidInput)
}

// parseEventStatus validates a stop event status string, empty means none
func parseEventStatus(s string) (rt.StopEventStatus, error) {
	switch s {
	case "":
		return rt.StopEventNone, nil
	case string(rt.StopEventNone), string(rt.StopEventUpdate), string(rt.StopEventDelete),
		string(rt.StopEventDeletedForDetour), string(rt.StopEventAdd), string(rt.StopEventAddedForDetour):
		return rt.StopEventStatus(s), nil
	}
	return "", fmt.Errorf("unknown stop event status %q: %w", s, ErrInvalidInput)
}

// parseEffect validates an optional effect string
func parseEffect(s *string) (*rt.Effect, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	switch rt.Effect(*s) {
	case rt.EffectSignificantDelays, rt.EffectDetour, rt.EffectReducedService, rt.EffectModifiedService,
		rt.EffectNoService, rt.EffectAdditionalService, rt.EffectUnknown:
		effect := rt.Effect(*s)
		return &effect, nil
	}
	return nil, fmt.Errorf("unknown effect %q: %w", *s, ErrInvalidInput)
}

// parseDatetime reads an RFC3339 datetime and normalizes it to naive UTC
func parseDatetime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, fmt.Errorf("invalid datetime %q: %w", *s, ErrInvalidInput)
	}
	utc := parsed.UTC()
	return &utc, nil
}

// parseDate reads a "2006-01-02" service date
func parseDate(s string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, ErrInvalidInput)
	}
	return parsed.UTC(), nil
}

// deriveEffect classifies the trip impact when the feed does not name one
func deriveEffect(status rt.TripStatus, stops []*rt.StopTimeUpdate) rt.Effect {
	switch status {
	case rt.TripStatusDelete:
		return rt.EffectNoService
	case rt.TripStatusAdd:
		return rt.EffectAdditionalService
	}
	deleted := false
	delayed := false
	for _, st := range stops {
		if st.ArrivalStatus == rt.StopEventDeletedForDetour || st.DepartureStatus == rt.StopEventDeletedForDetour ||
			st.ArrivalStatus == rt.StopEventAddedForDetour || st.DepartureStatus == rt.StopEventAddedForDetour {
			return rt.EffectDetour
		}
		if st.ArrivalStatus.IsDeleted() || st.DepartureStatus.IsDeleted() {
			deleted = true
		}
		if st.ArrivalDelay != 0 || st.DepartureDelay != 0 {
			delayed = true
		}
	}
	if deleted {
		return rt.EffectReducedService
	}
	if delayed {
		return rt.EffectSignificantDelays
	}
	return rt.EffectUnknown
}

// resolveJourney loads the base trip for tripID circulating on date and dates
// it. A missing trip maps to ErrUnknownTarget so callers can record a KO row
// without retrying.
func resolveJourney(ctx context.Context, tt timetable.Service, tripID string, date time.Time) (*rt.VehicleJourney, error) {
	since, until := searchWindow(date)
	trip, err := tt.TripByID(ctx, tripID, since, until)
	if err != nil {
		if errors.Is(err, timetable.ErrTripNotFound) {
			return nil, fmt.Errorf("trip %s: %w", tripID, ErrUnknownTarget)
		}
		return nil, err
	}
	return rt.NewVehicleJourney(trip, since, until, nil)
}
