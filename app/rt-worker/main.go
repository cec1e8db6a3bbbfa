package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"

	"github.com/opentransit/rtbridge/app/rt-worker/worker"
	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/handler"
	"github.com/opentransit/rtbridge/business/publish"
	"github.com/opentransit/rtbridge/business/timetable"
	"github.com/opentransit/rtbridge/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "RT_WORKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
		Timetable struct {
			URL            string `conf:"default:http://localhost:9191"`
			Token          string `conf:"noprint"`
			TimeoutSeconds int    `conf:"default:5"`
		}
		Publish struct {
			NatsURL    string `conf:"default:nats://localhost:4222"`
			MaxRetries int    `conf:"default:3"`
		}
		Worker struct {
			ConnectorType               string `conf:"default:rail"`
			ConfigReloadIntervalSeconds int    `conf:"default:60"`
			CommitAttempts              int    `conf:"default:3"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Consume a contributor's broker queue and maintain realtime trip state"
	const prefix = "WORKER"
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

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	log.Println("main: Initializing database support")
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
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err = db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	log.Printf("main: Connecting to publish NATS server at %s", cfg.Publish.NatsURL)
	natsConn, err := nats.Connect(cfg.Publish.NatsURL)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer natsConn.Close()

	tt := timetable.NewClient(cfg.Timetable.URL, cfg.Timetable.Token,
		time.Duration(cfg.Timetable.TimeoutSeconds)*time.Second)
	publisher := publish.NewPublisher(log, natsConn, cfg.Publish.MaxRetries)
	h := handler.NewHandler(log, handler.NewStore(db, cfg.Worker.CommitAttempts), publisher)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return worker.RunSupervisorLoop(log, db, tt, h,
		rt.ConnectorType(cfg.Worker.ConnectorType),
		time.Duration(cfg.Worker.ConfigReloadIntervalSeconds)*time.Second,
		shutdown)
}
