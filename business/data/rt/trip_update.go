package rt

import (
	"time"
)

// TripUpdate is the cumulative realtime state of one VehicleJourney, the
// result of all realtime feeds received for the base trip. It persists and is
// overwritten by successive merges.
type TripUpdate struct {
	VJ             *VehicleJourney
	Status         TripStatus
	Message        *string
	ContributorID  string
	CompanyID      *string
	Effect         *Effect
	PhysicalModeID *string
	Headsign       *string

	StopTimeUpdates []*StopTimeUpdate

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// NewTripUpdate builds a TripUpdate for vj owned by contributorID
func NewTripUpdate(vj *VehicleJourney, contributorID string, status TripStatus) *TripUpdate {
	return &TripUpdate{
		VJ:            vj,
		Status:        status,
		ContributorID: contributorID,
		CreatedAt:     time.Now().UTC(),
	}
}

// FindStop locates the stop time update for (stopID, order). The exact pair is
// preferred so a journey serving the same stop twice (lollipop lines) resolves
// to the right visit, feeds that omit order still match on stopID alone.
func (t *TripUpdate) FindStop(stopID string, order int) *StopTimeUpdate {
	for _, st := range t.StopTimeUpdates {
		if st.StopID == stopID && st.Order == order {
			return st
		}
	}
	for _, st := range t.StopTimeUpdates {
		if st.StopID == stopID {
			return st
		}
	}
	return nil
}
