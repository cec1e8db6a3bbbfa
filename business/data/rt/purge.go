package rt

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// RemoveTripUpdatesBefore deletes the contributor's trip updates whose journey
// started before until, their stop sequences and cross references with them.
// Raw real_time_update rows are left alone so debugging information survives.
func RemoveTripUpdatesBefore(db *sqlx.DB, contributorID string, until time.Time) (int64, error) {
	statementString := db.Rebind("delete from trip_update " +
		"where contributor_id = ? " +
		"and vj_id in (select id from vehicle_journey where start_timestamp < ?)")
	result, err := db.Exec(statementString, contributorID, until)
	if err != nil {
		return 0, errors.Wrapf(err, "purging trip updates for %s", contributorID)
	}
	removed, _ := result.RowsAffected()

	// journeys no longer referenced by any trip update can go too
	orphanStatement := db.Rebind("delete from vehicle_journey " +
		"where start_timestamp < ? " +
		"and id not in (select vj_id from trip_update)")
	if _, err = db.Exec(orphanStatement, until); err != nil {
		return removed, errors.Wrap(err, "purging orphan vehicle journeys")
	}
	return removed, nil
}

// RemoveRealTimeUpdatesBefore deletes the contributor's raw update rows
// created before until that are not linked to any surviving trip update
func RemoveRealTimeUpdatesBefore(db *sqlx.DB, contributorID string, until time.Time) (int64, error) {
	statementString := db.Rebind("delete from real_time_update " +
		"where contributor_id = ? " +
		"and created_at < ? " +
		"and id not in (select real_time_update_id from associate_realtimeupdate_tripupdate)")
	result, err := db.Exec(statementString, contributorID, until)
	if err != nil {
		return 0, errors.Wrapf(err, "purging real time updates for %s", contributorID)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}
