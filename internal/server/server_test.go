package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/schoolgate/schoolgate/internal/config"
	"github.com/schoolgate/schoolgate/internal/attendance"
	"github.com/schoolgate/schoolgate/internal/logging"
	"github.com/schoolgate/schoolgate/internal/queue"
	"github.com/schoolgate/schoolgate/internal/scan"
)

const testStationKey = "gate-1-kiosk-secret-0001"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	stations := filepath.Join(dir, "stations.yaml")
	yaml := "stations:\n  - id: gate-1\n    kind: entrance\n    location: Main gate\n    key: " + testStationKey + "\n"
	if err := os.WriteFile(stations, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write stations: %v", err)
	}
	return config.Config{
		AppName:            "SchoolGate",
		AppEnv:             "development",
		Port:               "0",
		JWTSecret:          "access",
		RefreshSecret:      "refresh",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    time.Hour,
		MagicLinkTTL:       time.Minute,
		LoginRateLimit:     5,
		ScanCooldown:       2 * time.Second,
		QueueDBPath:        filepath.Join(dir, "queue.db"),
		QueueRetryInterval: time.Second,
		StationsFile:       stations,
	}
}

func TestNewWiresDevelopmentBackends(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t), nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := srv.app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/auth/nfc-login", strings.NewReader(`{"nfcId":"04A3B2C1","pin":"12"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = srv.app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("nfc-login: %v %v", resp, err)
	}

	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/stations/gate-1/taps", strings.NewReader(`{"payload":"04A3B2C1"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = srv.app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("tap without credentials must be refused: %v %v", resp, err)
	}

	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/stations/gate-1/taps", strings.NewReader(`{"payload":"04A3B2C1"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(scan.StationKeyHeader, testStationKey)
	resp, err = srv.app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("tap: %v %v", resp, err)
	}

	resp, err = srv.app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/stations/gate-1", nil))
	if err != nil || resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("station status must require a token: %v %v", resp, err)
	}
}

func TestNewRequiresBackendsOutsideDevelopment(t *testing.T) {
	cfg := testConfig(t)
	cfg.AppEnv = "production"
	cfg.StationsFile = ""
	if _, err := New(context.Background(), cfg, nil, nil, logging.Discard()); err == nil {
		t.Fatal("expected missing database to fail")
	}
}

func TestShutdownDrainsStationsBeforeClosingQueue(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t), nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.startEngine()
	st, err := srv.engine.Station("gate-1")
	if err != nil {
		t.Fatalf("Station: %v", err)
	}
	if err := st.Tap("04A3B2C1"); err != nil {
		t.Fatalf("Tap: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-srv.engineDone:
	default:
		t.Fatal("queue closed before stations stopped")
	}
	e := attendance.Event{
		ID: [16]byte{8}, EntityID: "stu-1", EntityKind: "student", Action: attendance.ActionCheckIn,
		StationID: "gate-1", StationKind: attendance.StationEntrance, OccurredAt: time.Now(),
	}
	if _, err := srv.queues.Station("gate-1").Enqueue(context.Background(), e); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestShutdownLeavesQueueOpenWhileStationsRun(t *testing.T) {
	db, err := queue.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	defer db.Close()
	srv := &Server{
		app:        fiber.New(),
		logger:     logging.Discard(),
		queues:     db,
		stopEngine: func() {},
		engineDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.Shutdown(ctx); err == nil {
		t.Fatal("expected shutdown to report running stations")
	}
	e := attendance.Event{
		ID: [16]byte{7}, EntityID: "stu-1", EntityKind: "student", Action: attendance.ActionCheckIn,
		StationID: "gate-1", StationKind: attendance.StationEntrance, OccurredAt: time.Now(),
	}
	if _, err := db.Station("gate-1").Enqueue(context.Background(), e); err != nil {
		t.Fatalf("queue closed under a running station: %v", err)
	}
}
