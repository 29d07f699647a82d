// Package app mounts annotation modes on the shared render loop, one at a
// time, and fans out their state changes to the front ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/loop"
	"github.com/ayusman/drishti/internal/mode"
	"github.com/ayusman/drishti/internal/store"
)

// ErrUnknownMode is returned when mounting a slug that names no mode.
var ErrUnknownMode = errors.New("unknown mode")

// ErrNotMounted is returned when an operation needs a mounted mode.
var ErrNotMounted = errors.New("no mode mounted")

// subscriberBuffer is the per-subscriber event queue. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 16

// Config holds the collaborators of the application.
type Config struct {
	// Store persists mode options and the last mode. Optional.
	Store *store.Store

	// Surface is painted by every mounted mode.
	Surface loop.Surface

	// NewSource opens a fresh frame source for each mount.
	NewSource func() capture.Source

	// Factory returns the detector factory for a mode.
	Factory func(m mode.Mode) detector.Factory

	// NewScheduler returns the scheduler for each mount. Defaults to a
	// RefreshScheduler at RefreshHz.
	NewScheduler func() loop.Scheduler
	RefreshHz    float64

	// Clock defaults to time.Now.
	Clock loop.Clock
}

// Status describes the mounted mode.
type Status struct {
	Mode      string     `json:"mode"`
	Title     string     `json:"title"`
	SessionID string     `json:"session_id"`
	State     loop.State `json:"state"`
	Message   string     `json:"message"`
	Error     string     `json:"error,omitempty"`
	Stats     loop.Stats `json:"stats"`
	StartedAt time.Time  `json:"started_at"`
}

// Event is published on every state change of a mounted mode and when the
// render loop stops with an error.
type Event struct {
	Type      string     `json:"type"`
	Mode      string     `json:"mode"`
	SessionID string     `json:"session_id"`
	State     loop.State `json:"state"`
	Message   string     `json:"message"`
	Error     string     `json:"error,omitempty"`
	Time      time.Time  `json:"time"`
}

// Event types.
const (
	EventState     = "state"
	EventUnmounted = "unmounted"
)

// App is the navigation layer: mounting a mode unmounts the previous one.
type App struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	session *session

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

// New creates an App. Nothing is mounted until Mount.
func New(config Config) *App {
	if config.NewScheduler == nil {
		hz := config.RefreshHz
		config.NewScheduler = func() loop.Scheduler { return loop.NewRefreshScheduler(hz) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Modes returns every mode in menu order.
func (a *App) Modes() []mode.Mode {
	return mode.All()
}

// Mount unmounts the current mode, if any, and mounts the mode named by
// slug. It returns as soon as setup has started; the mode begins in
// StateInitializing.
func (a *App) Mount(slug string) (Status, error) {
	m, err := mode.Lookup(slug)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownMode, slug)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ctx.Err(); err != nil {
		return Status{}, fmt.Errorf("app closed: %w", err)
	}

	a.unmountLocked()

	s, err := a.newSession(m)
	if err != nil {
		return Status{}, err
	}
	a.session = s

	s.controller.Mount(a.ctx)
	a.rememberMode(m)

	return s.status(), nil
}

// Unmount leaves the current mode and releases its resources. It returns
// ErrNotMounted when nothing is mounted, or the error that stopped the
// render loop.
func (a *App) Unmount() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return ErrNotMounted
	}
	return a.unmountLocked()
}

func (a *App) unmountLocked() error {
	s := a.session
	if s == nil {
		return nil
	}
	a.session = nil

	err := s.controller.Unmount()
	if err != nil {
		log.Warn().Err(err).Str("mode", s.mode.Slug).Str("session", s.id).Msg("render loop ended with error")
	}

	a.publish(Event{
		Type:      EventUnmounted,
		Mode:      s.mode.Slug,
		SessionID: s.id,
		State:     s.controller.State(),
		Time:      time.Now(),
	})
	return err
}

// Current returns the status of the mounted mode.
func (a *App) Current() (Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return Status{}, false
	}
	return a.session.status(), true
}

// LastMode returns the slug of the most recently mounted mode, as
// remembered by the store.
func (a *App) LastMode() (string, error) {
	if a.config.Store == nil {
		return "", store.ErrNotFound
	}
	return a.config.Store.Settings().Get(store.SettingLastMode)
}

func (a *App) rememberMode(m mode.Mode) {
	if a.config.Store == nil {
		return
	}
	if err := a.config.Store.Settings().Set(store.SettingLastMode, m.Slug); err != nil {
		log.Warn().Err(err).Str("mode", m.Slug).Msg("failed to remember mode")
	}
}

// Options returns the effective detector options of a mode: its defaults
// with any stored overrides applied.
func (a *App) Options(slug string) (detector.Options, error) {
	m, err := mode.Lookup(slug)
	if err != nil {
		return detector.Options{}, fmt.Errorf("%w: %q", ErrUnknownMode, slug)
	}
	return a.options(m)
}

func (a *App) options(m mode.Mode) (detector.Options, error) {
	if a.config.Store == nil {
		return m.Defaults, nil
	}

	stored, err := a.config.Store.ModeOptions().Get(m.Slug)
	if errors.Is(err, store.ErrNotFound) {
		return m.Defaults, nil
	}
	if err != nil {
		return detector.Options{}, fmt.Errorf("load options for %s: %w", m.Slug, err)
	}

	return m.Options(detector.Options{
		ModelAssetPath: stored.ModelAssetPath,
		Delegate:       stored.Delegate,
		MaxResults:     stored.MaxResults,
		ScoreThreshold: stored.ScoreThreshold,
	}), nil
}

// SaveOptions stores option overrides for a mode. They apply from the next
// mount.
func (a *App) SaveOptions(slug string, o store.ModeOptions) (detector.Options, error) {
	m, err := mode.Lookup(slug)
	if err != nil {
		return detector.Options{}, fmt.Errorf("%w: %q", ErrUnknownMode, slug)
	}
	if a.config.Store == nil {
		return detector.Options{}, errors.New("no store configured")
	}

	o.Mode = m.Slug
	if err := a.config.Store.ModeOptions().Upsert(&o); err != nil {
		return detector.Options{}, fmt.Errorf("save options for %s: %w", m.Slug, err)
	}
	return a.options(m)
}

// ResetOptions drops the stored overrides of a mode.
func (a *App) ResetOptions(slug string) error {
	m, err := mode.Lookup(slug)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownMode, slug)
	}
	if a.config.Store == nil {
		return nil
	}
	err = a.config.Store.ModeOptions().Delete(m.Slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel. Slow subscribers miss events rather
// than stall the loop.
func (a *App) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	a.subMu.Lock()
	a.subscribers[ch] = struct{}{}
	a.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subscribers, ch)
			close(ch)
			a.subMu.Unlock()
		})
	}
}

func (a *App) publish(e Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for ch := range a.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close unmounts the current mode and stops accepting mounts.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancel()
	return a.unmountLocked()
}
