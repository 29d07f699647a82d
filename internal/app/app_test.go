package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/loop"
	"github.com/ayusman/drishti/internal/mode"
	"github.com/ayusman/drishti/internal/store"
)

type harness struct {
	app   *App
	store *store.Store
	det   *detector.MockDetector
	surf  *loop.RecordingSurface

	mu         sync.Mutex
	sources    []*capture.MockSource
	schedulers []*loop.ManualScheduler
	options    []detector.Options
}

func newHarness(t *testing.T, withStore bool) *harness {
	t.Helper()

	h := &harness{
		det:  detector.NewMockDetector(),
		surf: loop.NewRecordingSurface(),
	}

	if withStore {
		s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("store.New() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		h.store = s
	}

	h.app = New(Config{
		Store:   h.store,
		Surface: h.surf,
		NewSource: func() capture.Source {
			h.mu.Lock()
			defer h.mu.Unlock()
			src := capture.NewMockSource(capture.Resolution{Width: 640, Height: 480}, 1, 2, 3)
			h.sources = append(h.sources, src)
			return src
		},
		Factory: func(m mode.Mode) detector.Factory {
			return func(ctx context.Context, opts detector.Options) (detector.Detector, error) {
				h.mu.Lock()
				h.options = append(h.options, opts)
				h.mu.Unlock()
				return h.det, nil
			}
		},
		NewScheduler: func() loop.Scheduler {
			h.mu.Lock()
			defer h.mu.Unlock()
			s := loop.NewManualScheduler()
			h.schedulers = append(h.schedulers, s)
			return s
		},
	})
	t.Cleanup(func() { h.app.Close() })
	return h
}

func (h *harness) source(i int) *capture.MockSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sources[i]
}

func (h *harness) scheduler(i int) *loop.ManualScheduler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.schedulers[i]
}

func (h *harness) lastOptions() detector.Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.options[len(h.options)-1]
}

func waitActive(t *testing.T, a *App) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := a.Current(); ok && st.State == loop.StateActive {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	st, _ := a.Current()
	t.Fatalf("mode did not become active, status %+v", st)
	return Status{}
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestApp_MountUnknown(t *testing.T) {
	h := newHarness(t, false)

	if _, err := h.app.Mount("gesture-recognition"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Mount() error = %v, want ErrUnknownMode", err)
	}
	if _, ok := h.app.Current(); ok {
		t.Error("unknown mode was mounted")
	}
	if err := h.app.Unmount(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Unmount() error = %v, want ErrNotMounted", err)
	}
}

func TestApp_MountActive(t *testing.T) {
	h := newHarness(t, true)
	events, cancel := h.app.Subscribe()
	defer cancel()

	st, err := h.app.Mount("face-detection")
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if st.Mode != "face-detection" || st.Title != "Face Detection" || st.SessionID == "" {
		t.Errorf("status = %+v", st)
	}
	if st.State != loop.StateInitializing && st.State != loop.StateActive {
		t.Errorf("state = %v right after mount", st.State)
	}

	if e := nextEvent(t, events); e.Type != EventState || e.State != loop.StateInitializing || e.Message != "Loading..." {
		t.Errorf("first event = %+v", e)
	}
	if e := nextEvent(t, events); e.State != loop.StateActive || e.SessionID != st.SessionID {
		t.Errorf("second event = %+v", e)
	}

	waitActive(t, h.app)
	if !h.scheduler(0).Tick() {
		t.Fatal("loop did not take the tick")
	}

	if err := h.app.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
	if h.det.Calls() != 1 {
		t.Errorf("Detect calls = %d, want 1", h.det.Calls())
	}
	if h.source(0).Releases() != 1 {
		t.Errorf("source releases = %d, want 1", h.source(0).Releases())
	}
	if e := nextEvent(t, events); e.Type != EventUnmounted {
		t.Errorf("last event = %+v, want unmounted", e)
	}

	last, err := h.app.LastMode()
	if err != nil || last != "face-detection" {
		t.Errorf("LastMode() = %q, %v", last, err)
	}
}

func TestApp_SwitchModes(t *testing.T) {
	h := newHarness(t, false)

	first, err := h.app.Mount("face-detection")
	if err != nil {
		t.Fatalf("Mount(face) error = %v", err)
	}
	waitActive(t, h.app)

	second, err := h.app.Mount("hand-landmark-detection")
	if err != nil {
		t.Fatalf("Mount(hand) error = %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Error("new mount reused the session id")
	}

	if h.source(0).Releases() != 1 {
		t.Errorf("first source releases = %d, want 1", h.source(0).Releases())
	}
	if h.scheduler(0).Stops() != 1 {
		t.Errorf("first scheduler stops = %d, want 1", h.scheduler(0).Stops())
	}

	st := waitActive(t, h.app)
	if st.Mode != "hand-landmark-detection" {
		t.Errorf("current mode = %q", st.Mode)
	}
	if got := h.lastOptions(); got.Task != detector.TaskHand || got.MaxResults != 2 {
		t.Errorf("hand options = %+v", got)
	}
	if _, err := h.app.LastMode(); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LastMode() without store error = %v", err)
	}
}

func TestApp_StoredOptions(t *testing.T) {
	h := newHarness(t, true)

	opts, err := h.app.Options("object-detection")
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if opts.ScoreThreshold != 0.5 {
		t.Errorf("default threshold = %v, want 0.5", opts.ScoreThreshold)
	}

	saved, err := h.app.SaveOptions("object-detection", store.ModeOptions{ScoreThreshold: 0.7, Delegate: detector.DelegateCPU})
	if err != nil {
		t.Fatalf("SaveOptions() error = %v", err)
	}
	if saved.ScoreThreshold != 0.7 || saved.Delegate != detector.DelegateCPU || saved.Task != detector.TaskObject {
		t.Errorf("saved options = %+v", saved)
	}

	if _, err := h.app.Mount("object-detection"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	waitActive(t, h.app)
	if got := h.lastOptions(); got.ScoreThreshold != 0.7 || got.Delegate != detector.DelegateCPU {
		t.Errorf("factory options = %+v, want stored overrides", got)
	}

	if err := h.app.ResetOptions("object-detection"); err != nil {
		t.Fatalf("ResetOptions() error = %v", err)
	}
	if err := h.app.ResetOptions("object-detection"); err != nil {
		t.Errorf("second ResetOptions() error = %v", err)
	}
	opts, _ = h.app.Options("object-detection")
	if opts != mode.Get(mode.Object).Defaults {
		t.Errorf("options after reset = %+v", opts)
	}

	if _, err := h.app.Options("nope"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Options(nope) error = %v", err)
	}
	if _, err := h.app.SaveOptions("nope", store.ModeOptions{}); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("SaveOptions(nope) error = %v", err)
	}
}

func TestApp_InferenceErrorReported(t *testing.T) {
	h := newHarness(t, false)
	boom := errors.New("boom")
	h.det.SetError(boom)

	events, cancel := h.app.Subscribe()
	defer cancel()

	if _, err := h.app.Mount("pose-landmark-detection"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	waitActive(t, h.app)
	h.scheduler(0).Tick()

	var failed Event
	for failed.Error == "" {
		failed = nextEvent(t, events)
	}
	if failed.Error != "detect: boom" {
		t.Errorf("event error = %q", failed.Error)
	}

	if err := h.app.Unmount(); !errors.Is(err, boom) {
		t.Errorf("Unmount() error = %v, want %v", err, boom)
	}
}

func TestApp_CameraDenied(t *testing.T) {
	h := newHarness(t, false)
	h.app.config.NewSource = func() capture.Source {
		src := capture.NewMockSource(capture.Resolution{Width: 640, Height: 480})
		src.FailAcquire(errors.New("denied"))
		return src
	}

	events, cancel := h.app.Subscribe()
	defer cancel()

	if _, err := h.app.Mount("face-detection"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	nextEvent(t, events)
	e := nextEvent(t, events)
	if e.State != loop.StateCameraDenied || e.Message != "Please allow camera permission" {
		t.Errorf("event = %+v", e)
	}
	if h.det.Calls() != 0 {
		t.Error("detector ran without a camera")
	}
}

func TestApp_Close(t *testing.T) {
	h := newHarness(t, false)

	if _, err := h.app.Mount("face-detection"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if err := h.app.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if h.source(0).Releases() != 1 {
		t.Errorf("source releases = %d, want 1", h.source(0).Releases())
	}
	if _, err := h.app.Mount("face-detection"); err == nil {
		t.Error("Mount() after Close should fail")
	}
}

func TestApp_Subscribe_Cancel(t *testing.T) {
	h := newHarness(t, false)
	events, cancel := h.app.Subscribe()
	cancel()
	cancel()

	if _, ok := <-events; ok {
		t.Error("channel still open after cancel")
	}
	if _, err := h.app.Mount("face-detection"); err != nil {
		t.Fatalf("Mount() after cancel error = %v", err)
	}

	h.app.subMu.Lock()
	n := len(h.app.subscribers)
	h.app.subMu.Unlock()
	if n != 0 {
		t.Errorf("%d subscribers left after cancel", n)
	}
}
