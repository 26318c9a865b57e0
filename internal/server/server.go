package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/schoolgate/schoolgate/internal/attendance"
	"github.com/schoolgate/schoolgate/internal/auth"
	"github.com/schoolgate/schoolgate/internal/config"
	"github.com/schoolgate/schoolgate/internal/identity"
	"github.com/schoolgate/schoolgate/internal/notification"
	"github.com/schoolgate/schoolgate/internal/queue"
	"github.com/schoolgate/schoolgate/internal/routes"
	"github.com/schoolgate/schoolgate/internal/scan"
	"github.com/schoolgate/schoolgate/internal/session"
	"github.com/schoolgate/schoolgate/internal/station"
)

// Server wraps the Fiber application, the hosted stations and shared
// dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	logger *slog.Logger

	engine     *scan.Engine
	queues     *queue.DB
	stopEngine context.CancelFunc
	engineDone chan struct{}
}

// New builds the services and delegates route wiring to routes.Setup. db and
// cache may be nil in development, in which case in-memory backends are used.
func New(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	var repo identity.Repository
	if db != nil {
		repo = identity.NewPostgresRepository(db)
	} else {
		repo = identity.NewMemoryRepository()
	}
	directory := identity.NewService(repo)

	var tokens session.TokenStore
	if cache != nil {
		tokens = session.NewRedisStore(cache, "session:")
	} else {
		tokens = session.NewMemoryStore()
	}
	bridge, err := session.NewJWTBridge(session.Config{
		Issuer:        cfg.AppName,
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		LinkTTL:       cfg.MagicLinkTTL,
	}, directory, tokens)
	if err != nil {
		return nil, fmt.Errorf("session bridge: %w", err)
	}
	authSvc := auth.NewService(directory, auth.NewIssuer(bridge, logger), auth.NewRoleSet(cfg.StaffRoles), logger)
	authHandler := auth.NewHandler(authSvc, bridge, cfg.GenericAuthErrors)

	s := &Server{app: app, cfg: cfg, logger: logger}
	if cfg.StationsFile != "" {
		if err := s.buildEngine(ctx, db, cache, directory); err != nil {
			return nil, err
		}
	}

	if err := routes.Setup(app, routes.Deps{
		Cfg:    cfg,
		DB:     db,
		Cache:  cache,
		Logger: logger,
		Auth:   authHandler,
		Tokens: bridge,
		Engine: s.engine,
	}); err != nil {
		s.closeQueues()
		return nil, err
	}

	return s, nil
}

func (s *Server) buildEngine(ctx context.Context, db *pgxpool.Pool, cache *redis.Client, directory *identity.Service) error {
	defs, err := station.LoadFile(s.cfg.StationsFile, s.cfg.ScanCooldown)
	if err != nil {
		return err
	}

	var store attendance.Store
	if db != nil {
		pg := attendance.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
	} else {
		store = attendance.NewMemoryStore()
	}

	var cooldown scan.Cooldown
	if cache != nil {
		cooldown = scan.NewRedisCooldown(cache)
	}

	queues, err := queue.Open(ctx, s.cfg.QueueDBPath)
	if err != nil {
		return fmt.Errorf("open offline queue: %w", err)
	}
	engine, err := scan.NewEngine(defs, func(id string) queue.Queue { return queues.Station(id) }, scan.Deps{
		Resolver:      directory,
		Store:         store,
		Notifier:      notification.NewLoggerNotifier(s.logger),
		Cooldown:      cooldown,
		Logger:        s.logger,
		RetryInterval: s.cfg.QueueRetryInterval,
	})
	if err != nil {
		queues.Close()
		return err
	}
	for _, st := range engine.Stations() {
		st.Start(nil)
	}
	s.engine, s.queues = engine, queues
	return nil
}

// Listen starts the hosted stations and the HTTP server.
func (s *Server) Listen() error {
	s.startEngine()
	return s.app.Listen(s.cfg.Address())
}

func (s *Server) startEngine() {
	if s.engine == nil || s.stopEngine != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopEngine = cancel
	s.engineDone = make(chan struct{})
	go func() {
		defer close(s.engineDone)
		s.engine.Run(ctx)
	}()
}

// Shutdown stops the HTTP server, lets stations finish captured taps and
// closes the offline queue. The queue stays open while any station is still
// running.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if s.stopEngine != nil {
		s.stopEngine()
		select {
		case <-s.engineDone:
		case <-ctx.Done():
			s.logger.Warn("stations still running at shutdown deadline, leaving offline queue open")
			return errors.Join(err, fmt.Errorf("stations did not stop: %w", ctx.Err()))
		}
	}
	return errors.Join(err, s.closeQueues())
}

func (s *Server) closeQueues() error {
	if s.queues == nil {
		return nil
	}
	return s.queues.Close()
}
