// Package scan runs kiosk stations: it turns raw taps into attendance
// events, suppresses repeat taps and keeps events in a durable local queue
// while storage is unreachable.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schoolgate/schoolgate/internal/attendance"
	"github.com/schoolgate/schoolgate/internal/logging"
	"github.com/schoolgate/schoolgate/internal/notification"
	"github.com/schoolgate/schoolgate/internal/queue"
	"github.com/schoolgate/schoolgate/internal/station"
)

// DefaultRetryInterval is how often queued events are retried.
const DefaultRetryInterval = 15 * time.Second

// ErrUnknownStation is returned for ids with no configured station.
var ErrUnknownStation = errors.New("unknown station")

// Deps are the collaborators shared by every station of an engine.
type Deps struct {
	Resolver Resolver
	Store    attendance.Store
	Notifier notification.Notifier
	// Cooldown is an optional shared tracker. Each station always keeps a
	// local one as well.
	Cooldown      Cooldown
	Logger        *slog.Logger
	Now           func() time.Time
	RetryInterval time.Duration
	// OnFeedback receives every processed tap. It runs on the station
	// worker and must not block.
	OnFeedback func(Feedback)
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.RetryInterval <= 0 {
		d.RetryInterval = DefaultRetryInterval
	}
	return d
}

// Engine owns the configured stations.
type Engine struct {
	stations map[string]*Station
	order    []string
	logger   *slog.Logger
}

// NewEngine builds one station per definition. queues supplies the offline
// queue for a station id.
func NewEngine(defs []station.Definition, queues func(stationID string) queue.Queue, deps Deps) (*Engine, error) {
	if deps.Resolver == nil || deps.Store == nil {
		return nil, errors.New("scan engine requires a resolver and an attendance store")
	}
	deps = deps.withDefaults()
	e := &Engine{stations: make(map[string]*Station, len(defs)), logger: deps.Logger}
	for _, def := range defs {
		if err := def.Validate(station.DefaultCooldown); err != nil {
			return nil, err
		}
		if _, dup := e.stations[def.ID]; dup {
			return nil, fmt.Errorf("duplicate station id %s", def.ID)
		}
		e.stations[def.ID] = NewStation(def, queues(def.ID), deps)
		e.order = append(e.order, def.ID)
	}
	return e, nil
}

// Station returns the station with id.
func (e *Engine) Station(id string) (*Station, error) {
	s, ok := e.stations[id]
	if !ok {
		return nil, ErrUnknownStation
	}
	return s, nil
}

// Stations returns stations in configuration order.
func (e *Engine) Stations() []*Station {
	out := make([]*Station, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.stations[id])
	}
	return out
}

// Kick asks every station to retry its queue now.
func (e *Engine) Kick() {
	for _, s := range e.stations {
		s.Kick()
	}
}

// Run runs every station until ctx is done and all captured taps are
// processed.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range e.stations {
		wg.Add(1)
		go func(s *Station) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	e.logger.Info("scan engine running", slog.Int("stations", len(e.stations)))
	wg.Wait()
	e.logger.Info("scan engine stopped")
}
