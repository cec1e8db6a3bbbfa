package rt

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/opentransit/rtbridge/foundation/database"
)

// DatedVJ identifies one vehicle journey by its natural key
type DatedVJ struct {
	TripID string
	Start  time.Time
}

// tripUpdateRow is the scan target for trip_update joined with vehicle_journey
type tripUpdateRow struct {
	VJID           string     `db:"vj_id"`
	TripID         string     `db:"trip_id"`
	StartTimestamp time.Time  `db:"start_timestamp"`
	Status         TripStatus `db:"status"`
	Message        *string    `db:"message"`
	ContributorID  string     `db:"contributor_id"`
	CompanyID      *string    `db:"company_id"`
	Effect         *string    `db:"effect"`
	PhysicalModeID *string    `db:"physical_mode_id"`
	Headsign       *string    `db:"headsign"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}

// stopTimeUpdateRow is the scan target for stop_time_update, delays stored as
// whole seconds
type stopTimeUpdateRow struct {
	ID                   string          `db:"id"`
	TripUpdateID         string          `db:"trip_update_id"`
	OrderIndex           int             `db:"order_index"`
	StopID               string          `db:"stop_id"`
	Message              *string         `db:"message"`
	Arrival              *time.Time      `db:"arrival"`
	ArrivalDelaySeconds  int64           `db:"arrival_delay_seconds"`
	ArrivalStatus        StopEventStatus `db:"arrival_status"`
	Departure            *time.Time      `db:"departure"`
	DepartureDelaySecond int64           `db:"departure_delay_seconds"`
	DepartureStatus      StopEventStatus `db:"departure_status"`
}

// FindTripUpdatesByDatedVJs loads persisted trip updates matching any of the
// (trip_id, start_timestamp) keys, stop sequences included, in one round trip
// per table.
func FindTripUpdatesByDatedVJs(db *sqlx.DB, keys []DatedVJ) ([]*TripUpdate, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var pairs []string
	var args []interface{}
	for _, key := range keys {
		pairs = append(pairs, "(vj.trip_id = ? and vj.start_timestamp = ?)")
		args = append(args, key.TripID, key.Start)
	}
	statementString := db.Rebind("select tu.vj_id, " +
		"vj.trip_id, " +
		"vj.start_timestamp, " +
		"tu.status, " +
		"tu.message, " +
		"tu.contributor_id, " +
		"tu.company_id, " +
		"tu.effect, " +
		"tu.physical_mode_id, " +
		"tu.headsign, " +
		"tu.created_at, " +
		"tu.updated_at " +
		"from trip_update tu " +
		"join vehicle_journey vj on vj.id = tu.vj_id " +
		"where " + strings.Join(pairs, " or ") +
		" order by vj.trip_id")

	var rows []tripUpdateRow
	if err := db.Select(&rows, statementString, args...); err != nil {
		return nil, errors.Wrap(err, "loading trip updates by dated vjs")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	byVJID := make(map[string]*TripUpdate)
	var results []*TripUpdate
	var vjIDs []string
	for _, row := range rows {
		tu := tripUpdateFromRow(row)
		byVJID[row.VJID] = tu
		results = append(results, tu)
		vjIDs = append(vjIDs, row.VJID)
	}

	stopStatement := "select id, " +
		"trip_update_id, " +
		"order_index, " +
		"stop_id, " +
		"message, " +
		"arrival, " +
		"arrival_delay_seconds, " +
		"arrival_status, " +
		"departure, " +
		"departure_delay_seconds, " +
		"departure_status " +
		"from stop_time_update " +
		"where trip_update_id in (:vj_ids) " +
		"order by trip_update_id, order_index"
	stopRows, err := database.PrepareNamedQueryRowsFromMap(stopStatement, db,
		map[string]interface{}{"vj_ids": vjIDs})
	if err != nil {
		return nil, errors.Wrap(err, "loading stop time updates")
	}
	defer func() {
		_ = stopRows.Close()
	}()
	for stopRows.Next() {
		var stopRow stopTimeUpdateRow
		if err = stopRows.StructScan(&stopRow); err != nil {
			return nil, errors.Wrap(err, "scanning stop time update")
		}
		tu := byVJID[stopRow.TripUpdateID]
		if tu == nil {
			continue
		}
		tu.StopTimeUpdates = append(tu.StopTimeUpdates, stopTimeUpdateFromRow(stopRow))
	}
	return results, stopRows.Err()
}

func tripUpdateFromRow(row tripUpdateRow) *TripUpdate {
	tu := TripUpdate{
		VJ: &VehicleJourney{
			ID:             row.VJID,
			TripID:         row.TripID,
			StartTimestamp: row.StartTimestamp,
		},
		Status:         row.Status,
		Message:        row.Message,
		ContributorID:  row.ContributorID,
		CompanyID:      row.CompanyID,
		PhysicalModeID: row.PhysicalModeID,
		Headsign:       row.Headsign,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.Effect != nil {
		effect := Effect(*row.Effect)
		tu.Effect = &effect
	}
	return &tu
}

func stopTimeUpdateFromRow(row stopTimeUpdateRow) *StopTimeUpdate {
	return &StopTimeUpdate{
		ID:              row.ID,
		Order:           row.OrderIndex,
		StopID:          row.StopID,
		Message:         row.Message,
		Arrival:         row.Arrival,
		ArrivalDelay:    time.Duration(row.ArrivalDelaySeconds) * time.Second,
		ArrivalStatus:   row.ArrivalStatus,
		Departure:       row.Departure,
		DepartureDelay:  time.Duration(row.DepartureDelaySecond) * time.Second,
		DepartureStatus: row.DepartureStatus,
	}
}

// SaveRealTimeUpdate persists the raw update row, every linked trip update and
// the cross references inside tx. The commit of this transaction is the
// linearization point for concurrent updates to the same journey.
func SaveRealTimeUpdate(tx *sqlx.Tx, rtu *RealTimeUpdate) error {
	if err := insertRealTimeUpdate(tx, rtu); err != nil {
		return err
	}
	for _, tu := range rtu.TripUpdates {
		if err := saveTripUpdate(tx, tu); err != nil {
			return err
		}
		if err := linkTripUpdate(tx, rtu.ID, tu.VJ.ID); err != nil {
			return err
		}
	}
	return nil
}

func insertRealTimeUpdate(tx *sqlx.Tx, rtu *RealTimeUpdate) error {
	statementString := "insert into real_time_update ( " +
		"id, " +
		"connector, " +
		"status, " +
		"error, " +
		"raw_data, " +
		"contributor_id, " +
		"created_at) " +
		"values (" +
		":id, " +
		":connector, " +
		":status, " +
		":error, " +
		":raw_data, " +
		":contributor_id, " +
		":created_at)"
	statementString = tx.Rebind(statementString)
	_, err := tx.NamedExec(statementString, rtu)
	return errors.Wrap(err, "inserting real time update")
}

func saveTripUpdate(tx *sqlx.Tx, tu *TripUpdate) error {
	// the vehicle journey row may survive a purged trip update, reuse its id
	vjStatement := tx.Rebind("insert into vehicle_journey (id, trip_id, start_timestamp) " +
		"values (?, ?, ?) " +
		"on conflict (trip_id, start_timestamp) do update set trip_id = excluded.trip_id " +
		"returning id")
	if err := tx.Get(&tu.VJ.ID, vjStatement, tu.VJ.ID, tu.VJ.TripID, tu.VJ.StartTimestamp); err != nil {
		return errors.Wrapf(err, "saving vehicle journey %s", tu.VJ.TripID)
	}

	now := time.Now().UTC()
	tu.UpdatedAt = &now
	sqlArgMap := map[string]interface{}{
		"vj_id":            tu.VJ.ID,
		"status":           tu.Status,
		"message":          tu.Message,
		"contributor_id":   tu.ContributorID,
		"company_id":       tu.CompanyID,
		"effect":           effectString(tu.Effect),
		"physical_mode_id": tu.PhysicalModeID,
		"headsign":         tu.Headsign,
		"created_at":       tu.CreatedAt,
		"updated_at":       tu.UpdatedAt,
	}
	statementString := "insert into trip_update ( " +
		"vj_id, " +
		"status, " +
		"message, " +
		"contributor_id, " +
		"company_id, " +
		"effect, " +
		"physical_mode_id, " +
		"headsign, " +
		"created_at, " +
		"updated_at) " +
		"values (" +
		":vj_id, " +
		":status, " +
		":message, " +
		":contributor_id, " +
		":company_id, " +
		":effect, " +
		":physical_mode_id, " +
		":headsign, " +
		":created_at, " +
		":updated_at) " +
		"on conflict (vj_id) do update set " +
		"status = excluded.status, " +
		"message = excluded.message, " +
		"contributor_id = excluded.contributor_id, " +
		"company_id = excluded.company_id, " +
		"effect = excluded.effect, " +
		"physical_mode_id = excluded.physical_mode_id, " +
		"headsign = excluded.headsign, " +
		"updated_at = excluded.updated_at"
	statementString = tx.Rebind(statementString)
	if _, err := tx.NamedExec(statementString, sqlArgMap); err != nil {
		return errors.Wrapf(err, "saving trip update for vj %s", tu.VJ.ID)
	}

	return replaceStopTimeUpdates(tx, tu)
}

func replaceStopTimeUpdates(tx *sqlx.Tx, tu *TripUpdate) error {
	deleteStatement := tx.Rebind("delete from stop_time_update where trip_update_id = ?")
	if _, err := tx.Exec(deleteStatement, tu.VJ.ID); err != nil {
		return errors.Wrapf(err, "clearing stop time updates for vj %s", tu.VJ.ID)
	}
	if len(tu.StopTimeUpdates) == 0 {
		return nil
	}

	statementString := "insert into stop_time_update ( " +
		"id, " +
		"trip_update_id, " +
		"order_index, " +
		"stop_id, " +
		"message, " +
		"arrival, " +
		"arrival_delay_seconds, " +
		"arrival_status, " +
		"departure, " +
		"departure_delay_seconds, " +
		"departure_status) " +
		"values (" +
		":id, " +
		":trip_update_id, " +
		":order_index, " +
		":stop_id, " +
		":message, " +
		":arrival, " +
		":arrival_delay_seconds, " +
		":arrival_status, " +
		":departure, " +
		":departure_delay_seconds, " +
		":departure_status)"
	statementString = tx.Rebind(statementString)

	for _, st := range tu.StopTimeUpdates {
		sqlArgMap := map[string]interface{}{
			"id":                      st.ID,
			"trip_update_id":          tu.VJ.ID,
			"order_index":             st.Order,
			"stop_id":                 st.StopID,
			"message":                 st.Message,
			"arrival":                 st.Arrival,
			"arrival_delay_seconds":   int64(st.ArrivalDelay / time.Second),
			"arrival_status":          st.ArrivalStatus,
			"departure":               st.Departure,
			"departure_delay_seconds": int64(st.DepartureDelay / time.Second),
			"departure_status":        st.DepartureStatus,
		}
		if _, err := tx.NamedExec(statementString, sqlArgMap); err != nil {
			return errors.Wrapf(err, "inserting stop time update %s", st.StopID)
		}
	}
	return nil
}

func linkTripUpdate(tx *sqlx.Tx, rtuID string, vjID string) error {
	statementString := tx.Rebind("insert into associate_realtimeupdate_tripupdate " +
		"(real_time_update_id, trip_update_id) values (?, ?) " +
		"on conflict do nothing")
	_, err := tx.Exec(statementString, rtuID, vjID)
	return errors.Wrap(err, "linking trip update to real time update")
}

func effectString(effect *Effect) *string {
	if effect == nil {
		return nil
	}
	s := string(*effect)
	return &s
}

// LastRealTimeUpdate returns the most recent raw update row for the
// (connector, contributor) pair, nil when none exists
func LastRealTimeUpdate(db *sqlx.DB, connector ConnectorType, contributorID string) (*RealTimeUpdate, error) {
	statementString := db.Rebind("select id, connector, status, error, raw_data, contributor_id, " +
		"created_at, updated_at " +
		"from real_time_update " +
		"where connector = ? and contributor_id = ? " +
		"order by created_at desc limit 1")
	var rtu RealTimeUpdate
	err := db.Get(&rtu, statementString, connector, contributorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading last real time update")
	}
	return &rtu, nil
}

// SaveErrorRealTimeUpdate records a KO row for a payload outside of any
// handler transaction
func SaveErrorRealTimeUpdate(db *sqlx.DB, rtu *RealTimeUpdate) error {
	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = insertRealTimeUpdate(tx, rtu); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing error real time update")
}

// PokeUpdatedAt refreshes updated_at on an existing raw update row, used when
// a repeated (payload, error) pair should not grow a new row
func PokeUpdatedAt(db *sqlx.DB, rtuID string) error {
	statementString := db.Rebind("update real_time_update set updated_at = ? where id = ?")
	_, err := db.Exec(statementString, time.Now().UTC(), rtuID)
	return errors.Wrap(err, "poking real time update")
}

// UpdateProbe is the most recent processing state for one contributor
type UpdateProbe struct {
	ContributorID   string     `db:"contributor_id"`
	LastUpdate      time.Time  `db:"last_update"`
	LastValidUpdate *time.Time `db:"last_valid_update"`
	LastError       *string    `db:"last_error"`
}

// LastUpdateProbes summarizes per contributor the last received update, the
// last valid one and the current error if any
func LastUpdateProbes(db *sqlx.DB) ([]UpdateProbe, error) {
	statementString := "select r.contributor_id, " +
		"max(coalesce(r.updated_at, r.created_at)) as last_update, " +
		"max(r.created_at) filter (where r.status = 'OK') as last_valid_update, " +
		"(array_agg(r.error order by r.created_at desc))[1] as last_error " +
		"from real_time_update r " +
		"group by r.contributor_id"
	var probes []UpdateProbe
	err := db.Select(&probes, statementString)
	if err != nil {
		return nil, errors.Wrap(err, "loading update probes")
	}
	return probes, nil
}
