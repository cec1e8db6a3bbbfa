package worker

import (
	"context"
	logger "log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/handler"
	"github.com/opentransit/rtbridge/business/timetable"
)

// RunSupervisorLoop owns the worker lifecycle: it picks the connector's
// contributor, launches a worker for it and relaunches with fresh settings
// after every worker exit. One contributor is expected per connector, when
// several are configured the lexicographically first wins with a warning.
func RunSupervisorLoop(log *logger.Logger,
	db *sqlx.DB,
	tt timetable.Service,
	h *handler.Handler,
	connectorType rt.ConnectorType,
	reloadInterval time.Duration,
	shutdownSignal chan os.Signal) error {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-shutdownSignal
		log.Printf("shutting down supervisor on signal")
		cancel()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		contributors, err := rt.ContributorsByConnector(db, connectorType, false)
		if err != nil {
			log.Printf("error loading %s contributors: %v", connectorType, err)
			sleepOrDone(ctx, reloadInterval)
			continue
		}
		if len(contributors) == 0 {
			log.Printf("no %s contributor", connectorType)
			sleepOrDone(ctx, reloadInterval)
			continue
		}
		contributor := contributors[0]
		if len(contributors) > 1 {
			log.Printf("more than one %s contributor, choosing %q", connectorType, contributor.ID)
		}

		w, err := NewWorker(log, &dbContributorSource{db: db}, tt, h, contributor, connectorType, reloadInterval)
		if err != nil {
			log.Printf("error building worker: %v", err)
			sleepOrDone(ctx, reloadInterval)
			continue
		}
		log.Printf("launching the %s worker for %q", connectorType, contributor.ID)
		if err = w.Run(ctx); err != nil {
			log.Printf("worker died unexpectedly: %v", err)
			sleepOrDone(ctx, reloadInterval)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
