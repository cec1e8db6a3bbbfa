package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

// operatorBuilder interprets the transit-authority push feed. Payloads are
// incremental: one trip per payload, only the stops the operator has news
// about, the base timetable fills the rest during the merge.
type operatorBuilder struct {
	contributor *rt.Contributor
	timetable   timetable.Service
}

func newOperatorBuilder(contributor *rt.Contributor, tt timetable.Service) *operatorBuilder {
	return &operatorBuilder{contributor: contributor, timetable: tt}
}

func (b *operatorBuilder) Connector() rt.ConnectorType { return rt.ConnectorOperator }

func (b *operatorBuilder) Complete() bool { return false }

type operatorStop struct {
	StopID          string  `json:"stop_id"`
	ArrivalDelay    int64   `json:"arrival_delay"`
	DepartureDelay  int64   `json:"departure_delay"`
	ArrivalStatus   string  `json:"arrival_status"`
	DepartureStatus string  `json:"departure_status"`
	Message         *string `json:"message"`
}

func (b *operatorBuilder) BuildTripUpdates(ctx context.Context, raw []byte) ([]*rt.TripUpdate, error) {
	var payload struct {
		TripID          string         `json:"trip_id"`
		CirculationDate string         `json:"circulation_date"`
		Status          string         `json:"status"`
		Message         *string        `json:"message"`
		Effect          *string        `json:"effect"`
		Stops           []operatorStop `json:"stops"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid json: %v: %w", err, ErrInvalidInput)
	}
	if payload.TripID == "" {
		return nil, fmt.Errorf("payload without trip_id: %w", ErrInvalidInput)
	}
	if payload.CirculationDate == "" {
		return nil, fmt.Errorf("payload without circulation_date: %w", ErrInvalidInput)
	}

	status, err := parseStatus(payload.Status)
	if err != nil {
		return nil, err
	}
	date, err := parseDate(payload.CirculationDate)
	if err != nil {
		return nil, err
	}
	vj, err := resolveJourney(ctx, b.timetable, payload.TripID, date)
	if err != nil {
		return nil, err
	}

	tripUpdate := rt.NewTripUpdate(vj, b.contributor.ID, status)
	tripUpdate.Message = payload.Message

	for index, stop := range payload.Stops {
		if stop.StopID == "" {
			return nil, fmt.Errorf("stop without stop_id: %w", ErrInvalidInput)
		}
		stopTimeUpdate := rt.NewStopTimeUpdate(stop.StopID, index)
		stopTimeUpdate.Message = stop.Message
		if stopTimeUpdate.ArrivalStatus, err = parseEventStatus(stop.ArrivalStatus); err != nil {
			return nil, err
		}
		if stopTimeUpdate.DepartureStatus, err = parseEventStatus(stop.DepartureStatus); err != nil {
			return nil, err
		}
		// an incremental feed announcing a delay is an update even when the
		// operator leaves the status implicit
		if stopTimeUpdate.ArrivalStatus == rt.StopEventNone && stop.ArrivalDelay != 0 {
			stopTimeUpdate.ArrivalStatus = rt.StopEventUpdate
		}
		if stopTimeUpdate.DepartureStatus == rt.StopEventNone && stop.DepartureDelay != 0 {
			stopTimeUpdate.DepartureStatus = rt.StopEventUpdate
		}
		stopTimeUpdate.ArrivalDelay = time.Duration(stop.ArrivalDelay) * time.Second
		stopTimeUpdate.DepartureDelay = time.Duration(stop.DepartureDelay) * time.Second
		tripUpdate.StopTimeUpdates = append(tripUpdate.StopTimeUpdates, stopTimeUpdate)
	}

	if tripUpdate.Effect, err = parseEffect(payload.Effect); err != nil {
		return nil, err
	}
	if tripUpdate.Effect == nil {
		effect := deriveEffect(status, tripUpdate.StopTimeUpdates)
		tripUpdate.Effect = &effect
	}
	return []*rt.TripUpdate{tripUpdate}, nil
}
