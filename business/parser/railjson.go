package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

// railBuilder interprets the railway broker feed. Each payload carries one or
// more complete trips: every stop of the journey is present, including the
// unchanged ones.
type railBuilder struct {
	contributor *rt.Contributor
	timetable   timetable.Service
}

func newRailBuilder(contributor *rt.Contributor, tt timetable.Service) *railBuilder {
	return &railBuilder{contributor: contributor, timetable: tt}
}

func (b *railBuilder) Connector() rt.ConnectorType { return rt.ConnectorRail }

func (b *railBuilder) Complete() bool { return true }

// railTrip is the wire shape of one trip in the rail feed
type railTrip struct {
	TripID          string     `json:"trip_id"`
	CirculationDate string     `json:"circulation_date"`
	Start           *string    `json:"start"`
	Status          string     `json:"status"`
	Message         *string    `json:"message"`
	Effect          *string    `json:"effect"`
	CompanyID       *string    `json:"company_id"`
	PhysicalModeID  *string    `json:"physical_mode_id"`
	Headsign        *string    `json:"headsign"`
	Stops           []railStop `json:"stops"`
}

type railStop struct {
	StopID          string  `json:"stop_id"`
	Order           *int    `json:"order"`
	Arrival         *string `json:"arrival"`
	Departure       *string `json:"departure"`
	ArrivalDelay    int64   `json:"arrival_delay"`
	DepartureDelay  int64   `json:"departure_delay"`
	ArrivalStatus   string  `json:"arrival_status"`
	DepartureStatus string  `json:"departure_status"`
	Message         *string `json:"message"`
}

func (b *railBuilder) BuildTripUpdates(ctx context.Context, raw []byte) ([]*rt.TripUpdate, error) {
	var payload struct {
		Trips []railTrip `json:"trips"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid json: %v: %w", err, ErrInvalidInput)
	}
	if len(payload.Trips) == 0 {
		return nil, fmt.Errorf("no trips in payload: %w", ErrInvalidInput)
	}

	var tripUpdates []*rt.TripUpdate
	for _, trip := range payload.Trips {
		tripUpdate, err := b.buildTripUpdate(ctx, trip)
		if err != nil {
			return nil, err
		}
		tripUpdates = append(tripUpdates, tripUpdate)
	}
	return tripUpdates, nil
}

func (b *railBuilder) buildTripUpdate(ctx context.Context, trip railTrip) (*rt.TripUpdate, error) {
	if trip.TripID == "" {
		return nil, fmt.Errorf("trip without trip_id: %w", ErrInvalidInput)
	}
	status, err := parseStatus(trip.Status)
	if err != nil {
		return nil, err
	}

	vj, err := b.resolveRailJourney(ctx, trip, status)
	if err != nil {
		return nil, err
	}

	tripUpdate := rt.NewTripUpdate(vj, b.contributor.ID, status)
	tripUpdate.Message = trip.Message
	tripUpdate.CompanyID = trip.CompanyID
	tripUpdate.PhysicalModeID = trip.PhysicalModeID
	tripUpdate.Headsign = trip.Headsign

	for index, stop := range trip.Stops {
		stopTimeUpdate, err := buildStop(stop, index)
		if err != nil {
			return nil, err
		}
		tripUpdate.StopTimeUpdates = append(tripUpdate.StopTimeUpdates, stopTimeUpdate)
	}

	if tripUpdate.Effect, err = parseEffect(trip.Effect); err != nil {
		return nil, err
	}
	if tripUpdate.Effect == nil {
		effect := deriveEffect(status, tripUpdate.StopTimeUpdates)
		tripUpdate.Effect = &effect
	}
	return tripUpdate, nil
}

// resolveRailJourney dates the trip against the base timetable. An added trip
// has no base schedule, its journey starts at the feed's explicit start.
func (b *railBuilder) resolveRailJourney(ctx context.Context, trip railTrip, status rt.TripStatus) (*rt.VehicleJourney, error) {
	if status == rt.TripStatusAdd {
		start, err := parseDatetime(trip.Start)
		if err != nil {
			return nil, err
		}
		if start == nil {
			return nil, fmt.Errorf("added trip %s without start: %w", trip.TripID, ErrInvalidInput)
		}
		return rt.NewVehicleJourney(&timetable.Trip{ID: trip.TripID}, *start, start.AddDate(0, 0, 1), start)
	}

	date, err := b.circulationDate(trip)
	if err != nil {
		return nil, err
	}
	return resolveJourney(ctx, b.timetable, trip.TripID, date)
}

func (b *railBuilder) circulationDate(trip railTrip) (time.Time, error) {
	if trip.CirculationDate != "" {
		return parseDate(trip.CirculationDate)
	}
	// fall back to the explicit start's date when the feed omits the service date
	start, err := parseDatetime(trip.Start)
	if err != nil {
		return time.Time{}, err
	}
	if start == nil {
		return time.Time{}, fmt.Errorf("trip %s without circulation_date: %w", trip.TripID, ErrInvalidInput)
	}
	return *start, nil
}

func buildStop(stop railStop, index int) (*rt.StopTimeUpdate, error) {
	if stop.StopID == "" {
		return nil, fmt.Errorf("stop without stop_id: %w", ErrInvalidInput)
	}
	order := index
	if stop.Order != nil {
		order = *stop.Order
	}
	stopTimeUpdate := rt.NewStopTimeUpdate(stop.StopID, order)
	stopTimeUpdate.Message = stop.Message

	var err error
	if stopTimeUpdate.Arrival, err = parseDatetime(stop.Arrival); err != nil {
		return nil, err
	}
	if stopTimeUpdate.Departure, err = parseDatetime(stop.Departure); err != nil {
		return nil, err
	}
	if stopTimeUpdate.ArrivalStatus, err = parseEventStatus(stop.ArrivalStatus); err != nil {
		return nil, err
	}
	if stopTimeUpdate.DepartureStatus, err = parseEventStatus(stop.DepartureStatus); err != nil {
		return nil, err
	}
	stopTimeUpdate.ArrivalDelay = time.Duration(stop.ArrivalDelay) * time.Second
	stopTimeUpdate.DepartureDelay = time.Duration(stop.DepartureDelay) * time.Second
	return stopTimeUpdate, nil
}
