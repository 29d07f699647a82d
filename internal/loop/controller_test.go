package loop

import (
	"context"
	"errors"
	"image"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/drishti/internal/annotate"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
)

var vga = capture.Resolution{Width: 640, Height: 480}

type fixture struct {
	src   *capture.MockSource
	det   *detector.MockDetector
	surf  *RecordingSurface
	sched *ManualScheduler

	mu     sync.Mutex
	events []Event
}

func newFixture(positions ...int64) *fixture {
	return &fixture{
		src:   capture.NewMockSource(vga, positions...),
		det:   detector.NewMockDetector(),
		surf:  NewRecordingSurface(),
		sched: NewManualScheduler(),
	}
}

func (f *fixture) config() Config {
	return Config{
		Name:      "face-detection",
		Session:   "test",
		Source:    f.src,
		Surface:   f.surf,
		Factory:   detector.StaticFactory(f.det),
		Options:   detector.DefaultOptions(detector.TaskFace),
		Annotator: annotate.Face{},
		Scheduler: f.sched,
		Observer: func(e Event) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, e)
		},
	}
}

func (f *fixture) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []State
	for _, e := range f.events {
		if e.Err == nil {
			out = append(out, e.State)
		}
	}
	return out
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not finish")
	}
}

func mustTick(t *testing.T, s *ManualScheduler) {
	t.Helper()
	if !s.Tick() {
		t.Fatal("loop did not take the tick")
	}
}

func TestController_ActiveModes(t *testing.T) {
	tests := []struct {
		name      string
		task      string
		annotator annotate.Annotator
		result    *detector.Result
	}{
		{
			name:      "face",
			task:      detector.TaskFace,
			annotator: annotate.Face{},
			result:    detector.FaceResult(detector.Box{OriginX: 10, OriginY: 10, Width: 100, Height: 50}, 0.87),
		},
		{
			name:      "hand",
			task:      detector.TaskHand,
			annotator: annotate.Hand{},
			result:    &detector.Result{Detections: []detector.Detection{{Landmarks: detector.OpenPalmLandmarks()}}},
		},
		{
			name:      "pose",
			task:      detector.TaskPose,
			annotator: annotate.Pose{},
			result: &detector.Result{Detections: []detector.Detection{{Landmarks: []detector.Landmark{
				{X: 0.5, Y: 0.2, Z: -0.1}, {X: 0.5, Y: 0.25, Z: -0.05}, {X: 0.45, Y: 0.25},
			}}}},
		},
		{
			name:      "object",
			task:      detector.TaskObject,
			annotator: annotate.Object{},
			result: &detector.Result{Detections: []detector.Detection{{
				Box:        &detector.Box{OriginX: 50, OriginY: 60, Width: 200, Height: 120},
				Categories: []detector.Category{{Name: "cup", Score: 0.9}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(1)
			f.det.SetResult(tt.result)

			cfg := f.config()
			cfg.Name = tt.name
			cfg.Options = detector.DefaultOptions(tt.task)
			cfg.Annotator = tt.annotator

			c := New(cfg)
			if c.State() != StateInitializing {
				t.Fatalf("initial state = %v", c.State())
			}
			c.Mount(context.Background())
			waitState(t, c, StateActive)

			mustTick(t, f.sched)
			if err := c.Unmount(); err != nil {
				t.Fatalf("Unmount() error = %v", err)
			}

			if got := f.surf.Size(); got != image.Pt(640, 480) {
				t.Errorf("surface size = %v, want 640x480", got)
			}

			wantOps := []string{OpResize, OpClear, OpDrawFrame, OpPrimitives, OpPresent}
			if got := f.surf.Ops(); !reflect.DeepEqual(got, wantOps) {
				t.Errorf("surface ops = %v, want %v", got, wantOps)
			}

			batches := f.surf.Primitives()
			want := tt.annotator.Annotate(tt.result, image.Pt(640, 480))
			if len(batches) != 1 || !reflect.DeepEqual(batches[0], want) {
				t.Errorf("drawn primitives = %v, want %v", batches, want)
			}

			if f.det.Calls() != 1 {
				t.Errorf("Detect calls = %d, want 1", f.det.Calls())
			}
			if got := f.states(); !reflect.DeepEqual(got, []State{StateInitializing, StateActive}) {
				t.Errorf("events = %v", got)
			}
		})
	}
}

func TestController_CameraDenied(t *testing.T) {
	f := newFixture(1)
	f.src.FailAcquire(errors.New("permission denied"))

	c := New(f.config())
	c.Mount(context.Background())
	waitDone(t, c)

	if c.State() != StateCameraDenied {
		t.Fatalf("state = %v, want %v", c.State(), StateCameraDenied)
	}
	if got := c.State().Message(); got != "Please allow camera permission" {
		t.Errorf("message = %q", got)
	}
	if err := c.Unmount(); err != nil {
		t.Errorf("Unmount() error = %v", err)
	}

	if f.det.Calls() != 0 {
		t.Errorf("Detect calls = %d, want 0", f.det.Calls())
	}
	if ops := f.surf.Ops(); len(ops) != 0 {
		t.Errorf("surface ops = %v, want none", ops)
	}
	if f.sched.Starts() != 0 {
		t.Error("scheduler started after camera failure")
	}
	if f.src.Releases() != 1 {
		t.Errorf("source releases = %d, want 1", f.src.Releases())
	}
}

func TestController_EngineFailed(t *testing.T) {
	f := newFixture(1)
	cfg := f.config()
	cfg.Factory = detector.FailingFactory(errors.New("model not found"))

	c := New(cfg)
	c.Mount(context.Background())
	waitDone(t, c)

	if c.State() != StateEngineFailed {
		t.Fatalf("state = %v, want %v", c.State(), StateEngineFailed)
	}
	if got := c.State().Message(); got != "Something went wrong with the AI model" {
		t.Errorf("message = %q", got)
	}
	if err := c.Unmount(); err != nil {
		t.Errorf("Unmount() error = %v", err)
	}

	if got := f.surf.Ops(); !reflect.DeepEqual(got, []string{OpResize}) {
		t.Errorf("surface ops = %v, want only resize", got)
	}
	if f.sched.Starts() != 0 {
		t.Error("scheduler started after engine failure")
	}
	if f.src.Releases() != 1 {
		t.Errorf("source releases = %d, want 1", f.src.Releases())
	}
}

func TestController_UnmountTwice(t *testing.T) {
	f := newFixture(1)
	c := New(f.config())
	c.Mount(context.Background())
	waitState(t, c, StateActive)

	if err := c.Unmount(); err != nil {
		t.Fatalf("first Unmount() error = %v", err)
	}
	if err := c.Unmount(); err != nil {
		t.Fatalf("second Unmount() error = %v", err)
	}

	if f.src.Releases() != 1 {
		t.Errorf("source releases = %d, want 1", f.src.Releases())
	}
	if f.det.Closed() != 1 {
		t.Errorf("detector closes = %d, want 1", f.det.Closed())
	}
	if f.sched.Stops() != 1 {
		t.Errorf("scheduler stops = %d, want 1", f.sched.Stops())
	}
}

func TestController_UnmountBeforeMount(t *testing.T) {
	f := newFixture(1)
	c := New(f.config())

	if err := c.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
	waitDone(t, c)

	c.Mount(context.Background())
	if f.src.Acquires() != 0 {
		t.Error("Mount after Unmount acquired the source")
	}
	if c.State() != StateInitializing {
		t.Errorf("state = %v, want %v", c.State(), StateInitializing)
	}
}

func TestController_UnmountDuringAcquire(t *testing.T) {
	f := newFixture(1)
	unblock := f.src.BlockAcquire()
	defer unblock()

	var built atomic.Int32
	cfg := f.config()
	cfg.Factory = func(ctx context.Context, opts detector.Options) (detector.Detector, error) {
		built.Add(1)
		return f.det, nil
	}

	c := New(cfg)
	c.Mount(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for f.src.Acquires() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := c.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}

	if c.State() != StateInitializing {
		t.Errorf("state = %v, want %v", c.State(), StateInitializing)
	}
	if built.Load() != 0 {
		t.Error("detector built after Unmount")
	}
	if f.src.Releases() != 1 {
		t.Errorf("source releases = %d, want 1", f.src.Releases())
	}
	if f.sched.Starts() != 0 {
		t.Error("scheduler started after Unmount")
	}
}

func TestController_SkipsRepeatedFrames(t *testing.T) {
	f := newFixture(1, 1, 2)
	c := New(f.config())
	c.Mount(context.Background())
	waitState(t, c, StateActive)

	for i := 0; i < 3; i++ {
		mustTick(t, f.sched)
	}
	if err := c.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}

	if f.det.Calls() != 2 {
		t.Errorf("Detect calls = %d, want 2", f.det.Calls())
	}
	if f.src.FramesServed() != 2 {
		t.Errorf("frames served = %d, want 2", f.src.FramesServed())
	}
	if got := f.surf.Count(OpPresent); got != 2 {
		t.Errorf("presents = %d, want 2", got)
	}

	stats := c.Stats()
	if stats.Ticks != 3 || stats.Skipped != 1 || stats.Inferences != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

type fakeClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func TestController_TimestampsNeverDecrease(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{times: []time.Time{
		base,
		base.Add(10 * time.Millisecond),
		base.Add(5 * time.Millisecond),
		base.Add(20 * time.Millisecond),
	}}

	f := newFixture(1, 2, 3)
	cfg := f.config()
	cfg.Clock = clock.Now

	c := New(cfg)
	c.Mount(context.Background())
	waitState(t, c, StateActive)

	for i := 0; i < 3; i++ {
		mustTick(t, f.sched)
	}
	if err := c.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}

	want := []float64{10, 10, 20}
	if got := f.det.Timestamps(); !reflect.DeepEqual(got, want) {
		t.Errorf("timestamps = %v, want %v", got, want)
	}
	if got := c.Stats().LastTimestamp; got != 20 {
		t.Errorf("last timestamp = %v, want 20", got)
	}
}

func TestController_DetectError(t *testing.T) {
	f := newFixture(1)
	boom := errors.New("boom")
	f.det.SetError(boom)

	c := New(f.config())
	c.Mount(context.Background())
	waitState(t, c, StateActive)

	mustTick(t, f.sched)
	waitDone(t, c)

	err := c.Unmount()
	if !errors.Is(err, boom) {
		t.Fatalf("Unmount() error = %v, want %v", err, boom)
	}
	if !errors.Is(c.Err(), boom) {
		t.Errorf("Err() = %v", c.Err())
	}
	if c.State() != StateActive {
		t.Errorf("state = %v, want %v", c.State(), StateActive)
	}
	if f.surf.Count(OpPresent) != 0 {
		t.Error("failed tick presented a frame")
	}
	if f.src.Releases() != 1 || f.det.Closed() != 1 {
		t.Errorf("releases = %d, closes = %d, want 1 each", f.src.Releases(), f.det.Closed())
	}

	f.mu.Lock()
	last := f.events[len(f.events)-1]
	f.mu.Unlock()
	if !errors.Is(last.Err, boom) {
		t.Errorf("last event = %+v, want the detect error", last)
	}
}

func TestController_DrawFrameError(t *testing.T) {
	f := newFixture(1)
	f.surf.FailDrawFrame(errors.New("bad frame"))

	c := New(f.config())
	c.Mount(context.Background())
	waitState(t, c, StateActive)

	mustTick(t, f.sched)
	waitDone(t, c)

	if err := c.Unmount(); err == nil {
		t.Error("expected draw error from Unmount")
	}
}

func TestController_ParentContextCancel(t *testing.T) {
	f := newFixture(1)
	ctx, cancel := context.WithCancel(context.Background())

	c := New(f.config())
	c.Mount(ctx)
	waitState(t, c, StateActive)

	cancel()
	waitDone(t, c)

	if err := c.Unmount(); err != nil {
		t.Errorf("Unmount() error = %v", err)
	}
	if f.src.Releases() != 1 {
		t.Errorf("source releases = %d, want 1", f.src.Releases())
	}
}

func TestController_RefreshScheduler(t *testing.T) {
	f := newFixture(1, 2, 3)
	cfg := f.config()
	cfg.Scheduler = NewRefreshScheduler(200)

	c := New(cfg)
	c.Mount(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for f.det.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Unmount(); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}

	if f.det.Calls() != 3 {
		t.Errorf("Detect calls = %d, want 3", f.det.Calls())
	}
	if s := c.Stats(); s.Inferences != 3 || s.Skipped != s.Ticks-3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestController_Name(t *testing.T) {
	f := newFixture()
	c := New(f.config())
	if c.Name() != "face-detection" {
		t.Errorf("Name() = %q", c.Name())
	}
}
