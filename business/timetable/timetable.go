// Package timetable provides lookup of base-schedule trips from the timetable service
package timetable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentransit/rtbridge/foundation/httpclient"
)

// ErrTripNotFound indicates the timetable service has no trip matching the request
var ErrTripNotFound = errors.New("trip not found in base timetable")

// StopTime is one scheduled stop event of a base trip. Arrival and Departure
// are times of day in UTC, either may be absent at a terminus.
type StopTime struct {
	StopID    string     `json:"stop_id"`
	Arrival   *TimeOfDay `json:"-"`
	Departure *TimeOfDay `json:"-"`
	Timezone  string     `json:"timezone"`
}

// Trip is a base-schedule trip as published by the timetable service,
// circulation times without a specific day.
type Trip struct {
	ID             string     `json:"id"`
	Headsign       *string    `json:"headsign"`
	CompanyID      *string    `json:"company_id"`
	PhysicalModeID *string    `json:"physical_mode_id"`
	StopTimes      []StopTime `json:"-"`
}

// Service returns base-schedule trips circulating within a search window
type Service interface {
	TripByID(ctx context.Context, tripID string, since time.Time, until time.Time) (*Trip, error)
}

// Client queries the timetable service over HTTP
type Client struct {
	client *httpclient.JSONClient
}

// NewClient builds a timetable Client for the service at baseURL
func NewClient(baseURL string, token string, timeout time.Duration) *Client {
	return &Client{
		client: httpclient.NewJSONClient(baseURL, token, timeout),
	}
}

// jsonStopTime is the wire shape of a stop time, times of day as "15:04:05"
type jsonStopTime struct {
	StopID    string  `json:"stop_id"`
	Arrival   *string `json:"utc_arrival_time"`
	Departure *string `json:"utc_departure_time"`
	Timezone  string  `json:"timezone"`
}

type jsonTrip struct {
	ID             string         `json:"id"`
	Headsign       *string        `json:"headsign"`
	CompanyID      *string        `json:"company_id"`
	PhysicalModeID *string        `json:"physical_mode_id"`
	StopTimes      []jsonStopTime `json:"stop_times"`
}

// TripByID implements Service. The since/until window bounds the circulation
// the caller is interested in, the service uses it to pick the right variant
// of the trip.
func (c *Client) TripByID(ctx context.Context, tripID string, since time.Time, until time.Time) (*Trip, error) {
	path := fmt.Sprintf("/trips/%s?since=%s&until=%s",
		tripID, since.Format("20060102T150405Z"), until.Format("20060102T150405Z"))
	var decoded struct {
		Trips []jsonTrip `json:"trips"`
	}
	err := c.client.Get(ctx, path, &decoded)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	if len(decoded.Trips) == 0 {
		return nil, ErrTripNotFound
	}
	return tripFromJSON(decoded.Trips[0])
}

func tripFromJSON(jt jsonTrip) (*Trip, error) {
	trip := Trip{
		ID:             jt.ID,
		Headsign:       jt.Headsign,
		CompanyID:      jt.CompanyID,
		PhysicalModeID: jt.PhysicalModeID,
	}
	for _, jst := range jt.StopTimes {
		st := StopTime{
			StopID:   jst.StopID,
			Timezone: jst.Timezone,
		}
		var err error
		if st.Arrival, err = parseOptionalTimeOfDay(jst.Arrival); err != nil {
			return nil, err
		}
		if st.Departure, err = parseOptionalTimeOfDay(jst.Departure); err != nil {
			return nil, err
		}
		trip.StopTimes = append(trip.StopTimes, st)
	}
	return &trip, nil
}

func parseOptionalTimeOfDay(s *string) (*TimeOfDay, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	tod, err := ParseTimeOfDay(*s)
	if err != nil {
		return nil, err
	}
	return &tod, nil
}
