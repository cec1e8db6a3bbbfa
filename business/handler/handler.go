// Package handler orchestrates the processing of one inbound realtime
// payload: merge against stored state, adjust, persist, serialize and publish.
package handler

import (
	"bytes"
	"context"
	"errors"
	logger "log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/feed"
	"github.com/opentransit/rtbridge/business/merge"
	"github.com/opentransit/rtbridge/business/parser"
	"github.com/opentransit/rtbridge/business/publish"
	"github.com/opentransit/rtbridge/foundation/database"
)

// Store is the persistence surface the pipeline needs, or an implementation
// for testing
type Store interface {
	FindTripUpdatesByDatedVJs(keys []rt.DatedVJ) ([]*rt.TripUpdate, error)
	SaveRealTimeUpdate(rtu *rt.RealTimeUpdate) error
	LastRealTimeUpdate(connector rt.ConnectorType, contributorID string) (*rt.RealTimeUpdate, error)
	SaveErrorRealTimeUpdate(rtu *rt.RealTimeUpdate) error
	PokeUpdatedAt(rtuID string) error
}

// FeedPublisher ships a serialized feed downstream
type FeedPublisher interface {
	Publish(coverage string, feed []byte) error
}

// dbStore implements Store over postgres. The save commits the raw update, the
// trip updates and the cross references atomically, retrying the transaction a
// bounded number of times on storage errors.
type dbStore struct {
	db             *sqlx.DB
	commitAttempts int
}

// NewStore builds the postgres-backed Store
func NewStore(db *sqlx.DB, commitAttempts int) Store {
	return &dbStore{db: db, commitAttempts: commitAttempts}
}

func (s *dbStore) FindTripUpdatesByDatedVJs(keys []rt.DatedVJ) ([]*rt.TripUpdate, error) {
	return rt.FindTripUpdatesByDatedVJs(s.db, keys)
}

func (s *dbStore) SaveRealTimeUpdate(rtu *rt.RealTimeUpdate) error {
	return database.WithTxRetry(s.db, s.commitAttempts, 100*time.Millisecond, func(tx *sqlx.Tx) error {
		return rt.SaveRealTimeUpdate(tx, rtu)
	})
}

func (s *dbStore) LastRealTimeUpdate(connector rt.ConnectorType, contributorID string) (*rt.RealTimeUpdate, error) {
	return rt.LastRealTimeUpdate(s.db, connector, contributorID)
}

func (s *dbStore) SaveErrorRealTimeUpdate(rtu *rt.RealTimeUpdate) error {
	return rt.SaveErrorRealTimeUpdate(s.db, rtu)
}

func (s *dbStore) PokeUpdatedAt(rtuID string) error {
	return rt.PokeUpdatedAt(s.db, rtuID)
}

// Handler runs the shared processing pipeline for broker workers and HTTP
// ingestors
type Handler struct {
	log       *logger.Logger
	store     Store
	publisher FeedPublisher
}

// NewHandler builds a Handler
func NewHandler(log *logger.Logger, store Store, publisher FeedPublisher) *Handler {
	return &Handler{
		log:       log,
		store:     store,
		publisher: publisher,
	}
}

// Process interprets one raw payload with builder and runs the pipeline on the
// result. Parse failures are recorded as KO raw update rows and returned, the
// same (payload, error) pair only pokes the existing row's updated_at instead
// of growing a new one.
func (h *Handler) Process(ctx context.Context, contributor *rt.Contributor, builder parser.Builder, raw []byte) error {
	rtu := rt.NewRealTimeUpdate(raw, builder.Connector(), contributor.ID)

	tripUpdates, err := builder.BuildTripUpdates(ctx, raw)
	if err != nil {
		h.recordFailure(rtu, err)
		return err
	}

	if err = h.Handle(ctx, rtu, tripUpdates, contributor, builder.Complete()); err != nil {
		if !errors.Is(err, publish.ErrMessageNotPublished) {
			// the transaction did not land, keep a KO trace of the payload
			h.recordFailure(rtu, err)
		}
		return err
	}
	return nil
}

// Handle receives a raw update row with the trip updates parsed from it, each
// attached to its vehicle journey, and runs merge, adjust, persist, serialize,
// publish. Rejections are local to one trip update, the rest of the batch
// proceeds.
func (h *Handler) Handle(ctx context.Context, rtu *rt.RealTimeUpdate, tripUpdates []*rt.TripUpdate,
	contributor *rt.Contributor, newIsComplete bool) error {

	keys := make([]rt.DatedVJ, 0, len(tripUpdates))
	for _, tripUpdate := range tripUpdates {
		keys = append(keys, rt.DatedVJ{TripID: tripUpdate.VJ.TripID, Start: tripUpdate.VJ.StartTimestamp})
	}
	oldTripUpdates, err := h.store.FindTripUpdatesByDatedVJs(keys)
	if err != nil {
		return err
	}

	for _, tripUpdate := range tripUpdates {
		old := findOld(oldTripUpdates, tripUpdate.VJ)
		merged := merge.Merge(h.log, old, tripUpdate, newIsComplete)
		if merged == nil {
			continue
		}
		if !merge.Adjust(h.log, merged) {
			continue
		}
		rtu.Link(merged)
	}

	if err = h.store.SaveRealTimeUpdate(rtu); err != nil {
		return err
	}

	feedBytes, err := feed.Marshal(time.Now().UTC(), rtu.TripUpdates)
	if err != nil {
		return err
	}
	if err = h.publisher.Publish(contributor.Coverage, feedBytes); err != nil {
		return err
	}

	h.log.Printf("handled %d trip updates for contributor %s, feed size %d bytes",
		len(rtu.TripUpdates), contributor.ID, len(feedBytes))
	return nil
}

func findOld(oldTripUpdates []*rt.TripUpdate, vj *rt.VehicleJourney) *rt.TripUpdate {
	for _, old := range oldTripUpdates {
		if old.VJ.TripID == vj.TripID && old.VJ.StartTimestamp.Equal(vj.StartTimestamp) {
			return old
		}
	}
	return nil
}

// recordFailure writes a KO raw update row. A repeat of the same (payload,
// error) pair for the contributor only refreshes the existing row's
// updated_at so the error history stays one row per distinct failure.
func (h *Handler) recordFailure(rtu *rt.RealTimeUpdate, cause error) {
	last, err := h.store.LastRealTimeUpdate(rtu.Connector, rtu.ContributorID)
	if err != nil {
		h.log.Printf("error loading last real time update for %s: %v", rtu.ContributorID, err)
	}
	if last != nil && last.Status == rt.RTStatusKO && last.Error != nil && *last.Error == cause.Error() &&
		bytes.Equal(last.RawData, rtu.RawData) {
		if err = h.store.PokeUpdatedAt(last.ID); err != nil {
			h.log.Printf("error poking real time update %s: %v", last.ID, err)
		}
		return
	}
	rtu.SetKO(cause.Error())
	if err = h.store.SaveErrorRealTimeUpdate(rtu); err != nil {
		h.log.Printf("error saving KO real time update for %s: %v", rtu.ContributorID, err)
	}
}
