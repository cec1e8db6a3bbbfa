package main

import (
	"fmt"
	logger "log"
	"os"
	"time"

	"github.com/ardanlabs/conf"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/foundation/database"
)

var build = "develop"

// rt-purge removes trip updates and unlinked raw update rows past their
// retention windows. Run it from cron, it processes every contributor once
// and exits.
func main() {
	log := logger.New(os.Stdout, "RT_PURGE : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Purge realtime trip state past its retention windows"
	const prefix = "PURGE"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	contributors, err := rt.ContributorsByConnector(db, rt.ConnectorRail, true)
	if err != nil {
		return err
	}
	operatorContributors, err := rt.ContributorsByConnector(db, rt.ConnectorOperator, true)
	if err != nil {
		return err
	}
	contributors = append(contributors, operatorContributors...)

	now := time.Now().UTC()
	for _, contributor := range contributors {
		tripDays := contributor.DaysToKeepTripUpdates
		if tripDays <= 0 {
			tripDays = rt.DefaultDaysToKeepTripUpdates
		}
		rtDays := contributor.DaysToKeepRTUpdates
		if rtDays <= 0 {
			rtDays = rt.DefaultDaysToKeepRTUpdates
		}

		removedTrips, err := rt.RemoveTripUpdatesBefore(db, contributor.ID, now.AddDate(0, 0, -tripDays))
		if err != nil {
			log.Printf("error purging trip updates for %s: %v", contributor.ID, err)
			continue
		}
		removedRaw, err := rt.RemoveRealTimeUpdatesBefore(db, contributor.ID, now.AddDate(0, 0, -rtDays))
		if err != nil {
			log.Printf("error purging raw updates for %s: %v", contributor.ID, err)
			continue
		}
		log.Printf("purged contributor %s: %d trip updates, %d raw updates", contributor.ID, removedTrips, removedRaw)
	}
	return nil
}
