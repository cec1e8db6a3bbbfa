package rt

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Contributor models a configured upstream feed producer for a specific
// downstream coverage. One row in storage, one worker at runtime.
type Contributor struct {
	ID                    string        `db:"id"`
	Coverage              string        `db:"coverage"`
	Token                 *string       `db:"token"`
	FeedURL               *string       `db:"feed_url"`
	ConnectorType         ConnectorType `db:"connector_type"`
	RetrievalInterval     int           `db:"retrieval_interval"`
	IsActive              bool          `db:"is_active"`
	BrokerURL             *string       `db:"broker_url"`
	ExchangeName          *string       `db:"exchange_name"`
	QueueName             *string       `db:"queue_name"`
	DaysToKeepTripUpdates int           `db:"days_to_keep_trip_updates"`
	DaysToKeepRTUpdates   int           `db:"days_to_keep_rt_updates"`
}

const contributorColumns = "id, coverage, token, feed_url, connector_type, retrieval_interval, " +
	"is_active, broker_url, exchange_name, queue_name, days_to_keep_trip_updates, days_to_keep_rt_updates"

// ContributorByID loads one contributor, nil when the row does not exist.
// Always hits storage so config mutations are observed, there is no cache in
// front of it.
func ContributorByID(db *sqlx.DB, id string) (*Contributor, error) {
	statementString := db.Rebind("select " + contributorColumns + " from contributor where id = ?")
	var c Contributor
	err := db.Get(&c, statementString, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading contributor %s", id)
	}
	return &c, nil
}

// ContributorsByConnector lists contributors for a connector type ordered by
// id, deactivated rows included only when requested
func ContributorsByConnector(db *sqlx.DB, connectorType ConnectorType, includeDeactivated bool) ([]*Contributor, error) {
	statementString := "select " + contributorColumns + " from contributor where connector_type = ?"
	if !includeDeactivated {
		statementString += " and is_active"
	}
	statementString += " order by id"
	statementString = db.Rebind(statementString)

	var results []*Contributor
	err := db.Select(&results, statementString, connectorType)
	if err != nil {
		return nil, errors.Wrapf(err, "loading contributors for connector %s", connectorType)
	}
	return results, nil
}
