package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schoolgate/schoolgate/internal/attendance"
	"github.com/schoolgate/schoolgate/internal/identity"
	"github.com/schoolgate/schoolgate/internal/nfc"
	"github.com/schoolgate/schoolgate/internal/notification"
	"github.com/schoolgate/schoolgate/internal/queue"
	"github.com/schoolgate/schoolgate/internal/station"
)

const (
	tapBuffer      = 256
	processTimeout = 10 * time.Second
	notifyTimeout  = 5 * time.Second
)

var (
	// ErrNotListening is returned for taps delivered to an idle station.
	ErrNotListening = errors.New("station is not listening")
	// ErrBusy is returned when the tap buffer is full.
	ErrBusy = errors.New("station tap buffer is full")
)

// Resolver finds the directory record behind a raw tag.
type Resolver interface {
	Resolve(ctx context.Context, kind identity.Kind, raw nfc.RawTag) (identity.Identity, nfc.CanonicalID, error)
}

type tap struct {
	raw nfc.RawTag
	at  time.Time
}

type dayEntry struct {
	action attendance.Action
	at     time.Time
}

// Station runs the scan state machine for one physical reader. Taps are
// processed one at a time in arrival order by a single worker.
type Station struct {
	def   station.Definition
	deps  Deps
	queue queue.Queue
	taps  chan tap
	kick  chan struct{}

	local   *MemoryCooldown
	drainMu sync.Mutex

	mu        sync.Mutex
	state     State
	listening bool
	cancel    context.CancelFunc
	timer     *time.Timer
	last      *Feedback
	counts    map[FeedbackKind]int
	// dayLog holds the last accepted action per entity for logDay only.
	dayLog map[string]dayEntry
	logDay time.Time
}

// NewStation creates an idle station.
func NewStation(def station.Definition, q queue.Queue, deps Deps) *Station {
	deps = deps.withDefaults()
	return &Station{
		def:    def,
		deps:   deps,
		queue:  q,
		taps:   make(chan tap, tapBuffer),
		kick:   make(chan struct{}, 1),
		local:  NewMemoryCooldown(),
		counts: make(map[FeedbackKind]int),
		dayLog: make(map[string]dayEntry),
	}
}

// ID returns the station id.
func (s *Station) ID() string { return s.def.ID }

// Definition returns the station's configuration.
func (s *Station) Definition() station.Definition { return s.def }

// Start arms the station. When r is non-nil its taps are captured until Stop.
// Starting a listening station is a no-op.
func (s *Station) Start(r Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.listening = true
	if s.state == StateIdle {
		s.state = StateAwaitingTap
	}
	s.deps.Logger.Info("station listening", slog.String("station_id", s.def.ID))

	if r != nil {
		go func() {
			err := r.Listen(ctx, func(raw nfc.RawTag) {
				if err := s.Tap(raw); err != nil {
					s.deps.Logger.Warn("tap dropped", slog.String("station_id", s.def.ID), slog.Any("error", err))
				}
			})
			if err != nil {
				s.deps.Logger.Error("reader stopped", slog.String("station_id", s.def.ID), slog.Any("error", err))
			}
		}()
	}
}

// Stop detaches the listener and moves the station to idle. Taps already
// captured are still processed and persisted.
func (s *Station) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return
	}
	s.cancel()
	s.listening = false
	s.state = StateIdle
	if s.timer != nil {
		s.timer.Stop()
	}
	s.deps.Logger.Info("station stopped", slog.String("station_id", s.def.ID))
}

// Tap captures a raw payload without waiting for it to be processed.
func (s *Station) Tap(raw nfc.RawTag) error {
	s.mu.Lock()
	listening := s.listening
	s.mu.Unlock()
	if !listening {
		return ErrNotListening
	}
	select {
	case s.taps <- tap{raw: raw, at: s.deps.Now()}:
		return nil
	default:
		return ErrBusy
	}
}

// Kick asks the retry loop to drain the offline queue now.
func (s *Station) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run processes captured taps and retries queued events until ctx is done.
// On return every captured tap has been processed.
func (s *Station) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.retryLoop(ctx)
	}()

	for {
		select {
		case t := <-s.taps:
			s.process(ctx, t)
		case <-ctx.Done():
			s.Stop()
			for {
				select {
				case t := <-s.taps:
					s.process(ctx, t)
				default:
					wg.Wait()
					return
				}
			}
		}
	}
}

func (s *Station) process(ctx context.Context, t tap) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	s.mu.Lock()
	s.state = StateResolving
	s.mu.Unlock()

	fb := s.handle(pctx, t)
	fb.StationID = s.def.ID
	fb.At = t.at
	s.finish(fb)
}

func (s *Station) handle(ctx context.Context, t tap) Feedback {
	logger := s.deps.Logger.With(slog.String("station_id", s.def.ID))

	ident, canonical, err := s.deps.Resolver.Resolve(ctx, s.def.EntityKind, t.raw)
	if errors.Is(err, identity.ErrNotFound) {
		logger.Info("tap not recognized", slog.String("card", nfc.Fingerprint(canonical)))
		return Feedback{Kind: FeedbackUnrecognized}
	}
	if err != nil {
		logger.Error("directory lookup failed", slog.Any("error", err))
		return Feedback{Kind: FeedbackError}
	}
	fb := Feedback{EntityID: ident.ID, EntityName: ident.DisplayName}

	key := s.def.ID + ":" + ident.ID
	if s.seen(ctx, key, t.at) {
		fb.Kind = FeedbackAlreadyScanned
		return fb
	}

	action := s.nextAction(ctx, ident.ID, t.at)
	event := attendance.Event{
		ID:          uuid.New(),
		EntityID:    ident.ID,
		EntityKind:  string(ident.Kind),
		EntityName:  ident.DisplayName,
		NFCID:       string(canonical),
		Action:      action,
		Location:    s.def.Location,
		StationID:   s.def.ID,
		StationKind: s.def.Kind,
		OccurredAt:  t.at,
		SyncStatus:  attendance.SyncPending,
	}
	queued, err := s.transmit(ctx, event)
	if err != nil {
		logger.Error("attendance event not recorded", slog.String("event_id", event.ID.String()), slog.Any("error", err))
		return Feedback{Kind: FeedbackError, EntityID: ident.ID, EntityName: ident.DisplayName}
	}

	s.remember(ctx, key, t.at)
	s.logAction(ident.ID, action, t.at)

	if ident.Kind == identity.KindStudent {
		s.notify(ctx, event, ident.ParentID)
	}

	fb.Kind = FeedbackAccepted
	fb.Action = action
	fb.EventID = event.ID.String()
	fb.Queued = queued
	return fb
}

// seen checks the local window first and then the shared tracker, if any.
func (s *Station) seen(ctx context.Context, key string, at time.Time) bool {
	if ok, _ := s.local.Seen(ctx, key, at, s.def.Cooldown); ok {
		return true
	}
	if s.deps.Cooldown == nil {
		return false
	}
	ok, err := s.deps.Cooldown.Seen(ctx, key, at, s.def.Cooldown)
	if err != nil {
		s.deps.Logger.Warn("cooldown tracker failed, using local window", slog.String("station_id", s.def.ID), slog.Any("error", err))
		return false
	}
	return ok
}

// remember opens the cooldown window once the event is stored or queued.
func (s *Station) remember(ctx context.Context, key string, at time.Time) {
	_ = s.local.Mark(ctx, key, at, s.def.Cooldown)
	if s.deps.Cooldown == nil {
		return
	}
	if err := s.deps.Cooldown.Mark(ctx, key, at, s.def.Cooldown); err != nil {
		s.deps.Logger.Warn("cooldown tracker failed, using local window", slog.String("station_id", s.def.ID), slog.Any("error", err))
	}
}

func (s *Station) logAction(entityID string, action attendance.Action, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !sameDay(s.logDay, at) {
		s.dayLog = make(map[string]dayEntry)
		s.logDay = at
	}
	s.dayLog[entityID] = dayEntry{action: action, at: at}
}

// nextAction toggles against the newest known action for the entity today.
// Locally queued events are newer than anything in storage; the local day
// log is used when storage cannot be read.
func (s *Station) nextAction(ctx context.Context, entityID string, at time.Time) attendance.Action {
	opening, closing := s.def.Kind.Actions()

	if last, ok := s.lastQueued(ctx, entityID, at); ok {
		if last.Opening() {
			return closing
		}
		return opening
	}

	open, err := attendance.HasOpenRecord(ctx, s.deps.Store, entityID, s.def.Kind, at)
	if err != nil {
		s.deps.Logger.Warn("open record lookup failed, using local log", slog.String("station_id", s.def.ID), slog.Any("error", err))
		s.mu.Lock()
		entry, ok := s.dayLog[entityID]
		s.mu.Unlock()
		open = ok && sameDay(entry.at, at) && entry.action.Opening()
	}
	if open {
		return closing
	}
	return opening
}

func (s *Station) lastQueued(ctx context.Context, entityID string, at time.Time) (attendance.Action, bool) {
	entries, err := s.queue.Peek(ctx, 0)
	if err != nil {
		return "", false
	}
	var (
		last  attendance.Action
		found bool
	)
	for _, entry := range entries {
		e := entry.Event
		if e.EntityID == entityID && e.StationKind == s.def.Kind && sameDay(e.OccurredAt, at) {
			last, found = e.Action, true
		}
	}
	return last, found
}

// transmit writes e directly when nothing is queued, and queues it otherwise
// so that storage sees this station's events in order.
func (s *Station) transmit(ctx context.Context, e attendance.Event) (bool, error) {
	n, err := s.queue.Len(ctx)
	if err == nil && n == 0 {
		err := s.deps.Store.Append(ctx, e)
		if err == nil || errors.Is(err, attendance.ErrDuplicateEvent) {
			return false, nil
		}
		if attendance.IsPermanent(err) {
			return false, err
		}
		s.deps.Logger.Warn("attendance transmission failed, queueing",
			slog.String("station_id", s.def.ID),
			slog.String("event_id", e.ID.String()),
			slog.Bool("unreachable", errors.Is(err, attendance.ErrUnreachable)),
			slog.Any("error", err))
	}
	if _, err := s.queue.Enqueue(ctx, e); err != nil {
		return false, fmt.Errorf("queue event: %w", err)
	}
	return true, nil
}

func (s *Station) notify(ctx context.Context, e attendance.Event, parentID string) {
	if s.deps.Notifier == nil {
		return
	}
	msg, ok := notification.ForAttendance(e, parentID)
	if !ok {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.deps.Notifier.Send(nctx, msg); err != nil {
		s.deps.Logger.Warn("parent notification failed", slog.String("event_id", e.ID.String()), slog.Any("error", err))
	}
}

func (s *Station) finish(fb Feedback) {
	s.mu.Lock()
	s.last = &fb
	s.counts[fb.Kind]++
	switch {
	case !s.listening:
		s.state = StateIdle
	case fb.Kind == FeedbackAccepted:
		s.state = StateCooldown
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(s.def.Cooldown, s.endCooldown)
	default:
		s.state = StateAwaitingTap
	}
	s.mu.Unlock()

	s.deps.Logger.Info("tap processed",
		slog.String("station_id", fb.StationID),
		slog.String("feedback", string(fb.Kind)),
		slog.String("entity_id", fb.EntityID),
		slog.String("action", string(fb.Action)),
		slog.Bool("queued", fb.Queued))
	if s.deps.OnFeedback != nil {
		s.deps.OnFeedback(fb)
	}
}

func (s *Station) endCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCooldown && s.listening {
		s.state = StateAwaitingTap
	}
}

func (s *Station) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.deps.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
			s.Drain(final)
			cancel()
			return
		case <-ticker.C:
			s.Drain(ctx)
		case <-s.kick:
			s.Drain(ctx)
		}
	}
}

// Drain transmits queued events oldest first and stops at the first
// retryable failure. Events storage refuses outright are parked. It returns
// how many events were synced.
func (s *Station) Drain(ctx context.Context) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	synced := 0
	for {
		entries, err := s.queue.Peek(ctx, 1)
		if err != nil {
			return synced, err
		}
		if len(entries) == 0 {
			if synced > 0 {
				s.deps.Logger.Info("offline queue drained", slog.String("station_id", s.def.ID), slog.Int("synced", synced))
			}
			return synced, nil
		}
		entry := entries[0]
		err = s.deps.Store.Append(ctx, entry.Event)
		if attendance.IsPermanent(err) {
			s.deps.Logger.Error("queued event rejected, parking",
				slog.String("station_id", s.def.ID),
				slog.String("event_id", entry.Event.ID.String()),
				slog.Int("attempts", entry.Attempts),
				slog.Any("error", err))
			if err := s.queue.Park(ctx, entry.Seq, err); err != nil {
				return synced, err
			}
			continue
		}
		if err != nil && !errors.Is(err, attendance.ErrDuplicateEvent) {
			if rerr := s.queue.Retry(ctx, entry.Seq, err); rerr != nil {
				s.deps.Logger.Error("record retry failed", slog.String("station_id", s.def.ID), slog.Any("error", rerr))
			}
			return synced, err
		}
		if err := s.queue.Ack(ctx, entry.Seq); err != nil {
			return synced, err
		}
		synced++
	}
}

// Status is a point-in-time view of a station.
type Status struct {
	ID           string                 `json:"id"`
	Kind         attendance.StationKind `json:"kind"`
	Location     string                 `json:"location"`
	EntityKind   identity.Kind          `json:"entityKind"`
	State        State                  `json:"state"`
	Listening    bool                   `json:"listening"`
	QueueDepth   int                    `json:"queueDepth"`
	LastFeedback *Feedback              `json:"lastFeedback,omitempty"`
	Counts       map[FeedbackKind]int   `json:"counts"`
}

// Status reports the station's state and queue depth.
func (s *Station) Status(ctx context.Context) (Status, error) {
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:         s.def.ID,
		Kind:       s.def.Kind,
		Location:   s.def.Location,
		EntityKind: s.def.EntityKind,
		State:      s.state,
		Listening:  s.listening,
		QueueDepth: depth,
		Counts:     make(map[FeedbackKind]int, len(s.counts)),
	}
	if s.last != nil {
		last := *s.last
		st.LastFeedback = &last
	}
	for k, v := range s.counts {
		st.Counts[k] = v
	}
	return st, nil
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
