// Command station runs one kiosk reader. Taps are read line by line from a
// keyboard-wedge or serial device and recorded in Postgres. While the
// database is unreachable, badges resolve from a local directory snapshot
// and events wait in a local SQLite queue.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/schoolgate/schoolgate/internal/attendance"
	"github.com/schoolgate/schoolgate/internal/identity"
	"github.com/schoolgate/schoolgate/internal/infra"
	"github.com/schoolgate/schoolgate/internal/logging"
	"github.com/schoolgate/schoolgate/internal/notification"
	"github.com/schoolgate/schoolgate/internal/queue"
	"github.com/schoolgate/schoolgate/internal/scan"
	"github.com/schoolgate/schoolgate/internal/station"
)

type options struct {
	id            string
	kind          string
	location      string
	entityKind    string
	cooldown      time.Duration
	device        string
	queuePath     string
	databaseURL   string
	redisURL      string
	retryInterval time.Duration
	refresh       time.Duration
	logLevel      string
	logFormat     string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.id, "id", "", "station id (required)")
	flag.StringVar(&opts.kind, "kind", string(attendance.StationEntrance), "station kind: entrance, bus, cafeteria or classroom")
	flag.StringVar(&opts.location, "location", "", "location recorded on events (defaults to the id)")
	flag.StringVar(&opts.entityKind, "entity-kind", string(identity.KindStudent), "badge holders accepted: student or staff")
	flag.DurationVar(&opts.cooldown, "cooldown", station.DefaultCooldown, "repeat-tap window per badge")
	flag.StringVarP(&opts.device, "device", "d", "-", "reader device to read taps from, - for stdin")
	flag.StringVar(&opts.queuePath, "queue-db", "data/offline-queue.db", "offline queue database path")
	flag.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.StringVar(&opts.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL for shared cooldowns (optional)")
	flag.DurationVar(&opts.retryInterval, "retry-interval", scan.DefaultRetryInterval, "offline queue retry interval")
	flag.DurationVar(&opts.refresh, "directory-refresh", 15*time.Minute, "offline directory snapshot refresh interval")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.StringVar(&opts.logFormat, "log-format", "text", "log format: json or text")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "station: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	logger := logging.NewWithWriter(os.Stderr, opts.logLevel, opts.logFormat)

	def := station.Definition{
		ID:         opts.id,
		Kind:       attendance.StationKind(opts.kind),
		Location:   opts.location,
		EntityKind: identity.Kind(opts.entityKind),
		Cooldown:   opts.cooldown,
	}
	if err := def.Validate(station.DefaultCooldown); err != nil {
		return err
	}
	if opts.databaseURL == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.OpenPostgresPool(ctx, opts.databaseURL, "station-"+def.ID)
	if err != nil {
		return err
	}
	defer db.Close()
	store := attendance.NewPostgresStore(db)
	if err := infra.PingPostgres(ctx, db); err != nil {
		logger.Warn("database unreachable at startup, running offline", "error", err)
	} else if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn("attendance schema check failed", "error", err)
	}

	var cooldown scan.Cooldown
	if opts.redisURL != "" {
		var client *redis.Client
		client, err = infra.NewRedisClient(ctx, opts.redisURL, "station-"+def.ID)
		if err != nil {
			logger.Warn("shared cooldowns unavailable, using local window", "error", err)
		} else {
			defer client.Close()
			cooldown = scan.NewRedisCooldown(client)
		}
	}

	queues, err := queue.Open(ctx, opts.queuePath)
	if err != nil {
		return fmt.Errorf("open offline queue: %w", err)
	}
	defer queues.Close()

	directory := identity.NewPostgresRepository(db)
	resolver := identity.NewOfflineRepository(directory, directory, queues.Directory(), logger)
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		resolver.RunRefresher(refreshCtx, opts.refresh, def.EntityKind)
	}()
	defer func() {
		stopRefresh()
		<-refreshDone
	}()

	src, closeSrc, err := openDevice(opts.device)
	if err != nil {
		return err
	}
	defer closeSrc()

	engine, err := scan.NewEngine([]station.Definition{def}, func(id string) queue.Queue { return queues.Station(id) }, scan.Deps{
		Resolver:      identity.NewService(resolver),
		Store:         store,
		Notifier:      notification.NewLoggerNotifier(logger),
		Cooldown:      cooldown,
		Logger:        logger,
		RetryInterval: opts.retryInterval,
		OnFeedback:    printFeedback,
	})
	if err != nil {
		return err
	}
	st, _ := engine.Station(def.ID)
	st.Start(scan.NewLineReader(src))

	engine.Run(ctx)
	return nil
}

func openDevice(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open reader device: %w", err)
	}
	return f, f.Close, nil
}

func printFeedback(fb scan.Feedback) {
	switch fb.Kind {
	case scan.FeedbackAccepted:
		suffix := ""
		if fb.Queued {
			suffix = " (offline, queued)"
		}
		fmt.Printf("%s  %s %s%s\n", fb.At.Format("15:04:05"), fb.EntityName, fb.Action, suffix)
	case scan.FeedbackAlreadyScanned:
		fmt.Printf("%s  %s already scanned\n", fb.At.Format("15:04:05"), fb.EntityName)
	case scan.FeedbackUnrecognized:
		fmt.Printf("%s  card not recognized\n", fb.At.Format("15:04:05"))
	default:
		fmt.Printf("%s  scan failed, please try again\n", fb.At.Format("15:04:05"))
	}
}
