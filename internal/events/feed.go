package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

const (
	defaultFeedPoll  = time.Second
	defaultFeedBatch = 200
	defaultGapWait   = 5 * time.Second
)

// FromLatest starts a subscription after the newest event in its scope.
const FromLatest int64 = -1

// Source reads the committed event log.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, scope repo.EventScope) ([]domain.Event, error)
	LatestEventID(ctx context.Context, scope repo.EventScope) (int64, error)
}

// Publisher announces events that have just committed.
type Publisher interface {
	Publish(evts ...domain.Event)
}

// Handler consumes one event. Returning an error stops delivery; the same
// event is offered again on the next round.
type Handler func(ctx context.Context, evt domain.Event) error

type FeedOptions struct {
	PollInterval time.Duration
	GapTimeout   time.Duration
	BatchSize    int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Feed fans committed events out to subscriptions. Each subscription owns a
// cursor over the event log and receives events in id order, at least once.
// Publish only wakes subscriptions early; the log is the source of truth, so
// a missed wakeup costs at most one poll interval.
type Feed struct {
	source Source
	opts   FeedOptions
	log    *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func NewFeed(src Source, opts FeedOptions) *Feed {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultFeedPoll
	}
	if opts.GapTimeout <= 0 {
		opts.GapTimeout = defaultGapWait
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultFeedBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{source: src, opts: opts, log: logger, subs: map[uint64]*Subscription{}}
}

// Publish wakes every subscription whose scope covers one of evts.
func (f *Feed) Publish(evts ...domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		for _, evt := range evts {
			if s.scope.Match(evt) {
				s.nudge()
				break
			}
		}
	}
}

// Wake nudges every subscription.
func (f *Feed) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s.nudge()
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscription is one consumer's position in the feed.
type Subscription struct {
	id     uint64
	scope  repo.EventScope
	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	cursor   int64
	err      error
	gapAt    int64
	gapSince time.Time
}

// Subscribe starts delivering events in scope with ids greater than after to
// h until ctx ends or Close is called.
func (f *Feed) Subscribe(ctx context.Context, scope repo.EventScope, after int64, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("events: nil handler")
	}
	if after < 0 {
		latest, err := f.source.LatestEventID(ctx, repo.EventScope{})
		if err != nil {
			return nil, err
		}
		after = latest
	}
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.nextID++
	s := &Subscription{
		id:     f.nextID,
		scope:  scope,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
		cursor: after,
	}
	f.subs[s.id] = s
	f.mu.Unlock()

	go f.run(ctx, s, h)
	return s, nil
}

func (s *Subscription) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cursor is the id of the last event handled or skipped.
func (s *Subscription) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close stops delivery and waits for the pump to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is the last handler or read error, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (f *Feed) run(ctx context.Context, s *Subscription, h Handler) {
	defer func() {
		f.mu.Lock()
		delete(f.subs, s.id)
		f.mu.Unlock()
		close(s.done)
	}()
	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()
	for {
		for {
			more, err := f.pump(ctx, s, h)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				f.log.Warn("feed delivery paused", "subscription", s.id, "cursor", s.Cursor(), "err", err)
			}
			if err != nil || !more {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// pump delivers one batch. Reads are unscoped so that id gaps are visible:
// on Postgres a sequence value can become visible after a larger one, and a
// gap is only skipped once it has outlived the gap timeout.
func (f *Feed) pump(ctx context.Context, s *Subscription, h Handler) (bool, error) {
	cursor := s.Cursor()
	evts, err := f.source.EventsAfter(ctx, f.opts.BatchSize, cursor, repo.EventScope{})
	if err != nil {
		return false, err
	}
	for _, evt := range evts {
		if evt.ID != cursor+1 && !f.gapExpired(s, cursor+1, evt) {
			return false, nil
		}
		if s.scope.Match(evt) {
			if err := h(ctx, evt); err != nil {
				return false, err
			}
		}
		cursor = evt.ID
		s.mu.Lock()
		s.cursor = cursor
		s.mu.Unlock()
	}
	return len(evts) == f.opts.BatchSize, nil
}

func (f *Feed) gapExpired(s *Subscription, missing int64, next domain.Event) bool {
	now := f.opts.Now()
	if ts, err := time.Parse(time.RFC3339, next.TS); err == nil && now.Sub(ts) > f.opts.GapTimeout {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gapAt != missing {
		s.gapAt = missing
		s.gapSince = now
		return false
	}
	return now.Sub(s.gapSince) >= f.opts.GapTimeout
}
