package rt

import (
	"time"

	"github.com/google/uuid"
)

// RealTimeUpdate is one raw inbound payload and its processing outcome. Rows
// are immutable apart from status/error bookkeeping and outlive the trip
// updates they spawned so debugging information survives trip purges.
type RealTimeUpdate struct {
	ID            string        `db:"id"`
	Connector     ConnectorType `db:"connector"`
	Status        RTStatus      `db:"status"`
	Error         *string       `db:"error"`
	RawData       []byte        `db:"raw_data"`
	ContributorID string        `db:"contributor_id"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     *time.Time    `db:"updated_at"`

	// TripUpdates produced from this payload, linked many-to-many
	TripUpdates []*TripUpdate `db:"-"`
}

// NewRealTimeUpdate records rawData as received from contributorID
func NewRealTimeUpdate(rawData []byte, connector ConnectorType, contributorID string) *RealTimeUpdate {
	return &RealTimeUpdate{
		ID:            uuid.NewString(),
		Connector:     connector,
		Status:        RTStatusOK,
		RawData:       rawData,
		ContributorID: contributorID,
		CreatedAt:     time.Now().UTC(),
	}
}

// SetKO marks the row as failed with a human-readable error
func (r *RealTimeUpdate) SetKO(errorMessage string) {
	r.Status = RTStatusKO
	r.Error = &errorMessage
}

// Link associates a trip update produced from this payload
func (r *RealTimeUpdate) Link(tu *TripUpdate) {
	r.TripUpdates = append(r.TripUpdates, tu)
}
