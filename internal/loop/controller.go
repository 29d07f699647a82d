// Package loop runs one mode's capture, infer and render cycle: it acquires
// the frame source, sizes the drawing surface, creates the detector and then
// on every scheduler tick detects on the freshest frame and paints the
// annotated result. It owns every resource of the mount and releases them
// exactly once on unmount.
package loop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/annotate"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/draw"
)

// Surface is the drawing surface the loop paints on.
type Surface interface {
	Resize(width, height int)
	Clear()
	DrawFrame(frame *gocv.Mat) error
	DrawPrimitives(primitives []draw.Primitive)
	// Present publishes the frame painted since the last Clear.
	Present()
}

// Clock returns the current time. Timestamps handed to the detector are
// milliseconds since the loop became active.
type Clock func() time.Time

// Event reports a state change, or the error that ended the cycle.
type Event struct {
	Name  string
	State State
	Err   error
}

// Observer receives events from the loop goroutine. It must not block.
type Observer func(Event)

// Config wires a Controller.
type Config struct {
	// Name identifies the mode in logs and events.
	Name string
	// Session is a per-mount identifier included in logs.
	Session string

	Source    capture.Source
	Surface   Surface
	Factory   detector.Factory
	Options   detector.Options
	Annotator annotate.Annotator

	// Scheduler defaults to a RefreshScheduler at DefaultRefreshRate.
	Scheduler Scheduler
	// Clock defaults to time.Now.
	Clock    Clock
	Observer Observer
}

// Stats counts the work done by the cycle.
type Stats struct {
	Ticks         int64         `json:"ticks"`
	Skipped       int64         `json:"skipped"`
	Inferences    int64         `json:"inferences"`
	LastLatency   time.Duration `json:"last_latency_ns"`
	LastTimestamp float64       `json:"last_timestamp_ms"`
}

// Controller drives one mount of a mode.
type Controller struct {
	cfg    Config
	logger zerolog.Logger
	guard  guard

	mu        sync.RWMutex
	state     State
	stats     Stats
	err       error
	cancel    context.CancelFunc
	mounted   bool
	unmounted bool

	done        chan struct{}
	finish      func()
	unmountOnce sync.Once

	// Owned by the loop goroutine.
	det     detector.Detector
	frame   image.Point
	start   time.Time
	lastPos int64
	hasLast bool
	lastTs  float64
}

// New creates a Controller in StateInitializing. Nothing runs until Mount.
func New(cfg Config) *Controller {
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewRefreshScheduler(DefaultRefreshRate)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Controller{
		cfg:    cfg,
		logger: log.With().Str("mode", cfg.Name).Str("session", cfg.Session).Logger(),
		state:  StateInitializing,
		done:   make(chan struct{}),
	}
	c.finish = sync.OnceFunc(func() { close(c.done) })
	return c
}

// Mount starts setup and, once it succeeds, the render cycle. Setup failures
// do not surface as errors; they move the controller to CameraDenied or
// EngineFailed. Mount does nothing after the first call or after Unmount.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted || c.unmounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.logger.Info().Msg("mounting")
	c.emit(Event{Name: c.cfg.Name, State: StateInitializing})

	go c.run(ctx)
}

func (c *Controller) run(ctx context.Context) {
	defer c.finish()

	// Registered before Acquire so the source is released whatever happens.
	c.guard.add("source", c.cfg.Source.Release)

	res, err := c.cfg.Source.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("frame source unavailable")
		c.transition(StateCameraDenied)
		return
	}

	c.cfg.Surface.Resize(res.Width, res.Height)
	c.frame = image.Pt(res.Width, res.Height)

	det, err := c.cfg.Factory(ctx, c.cfg.Options)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, detector.ErrEngineInit) {
			err = fmt.Errorf("%w: %v", detector.ErrEngineInit, err)
		}
		c.logger.Error().Err(err).Str("task", c.cfg.Options.Task).Msg("detector creation failed")
		c.transition(StateEngineFailed)
		return
	}
	c.det = det
	c.guard.add("detector", det.Close)

	ticks, stop := c.cfg.Scheduler.Start()
	c.guard.add("scheduler", func() error {
		stop()
		return nil
	})

	c.start = c.cfg.Clock()
	c.transition(StateActive)
	c.logger.Info().Int("width", res.Width).Int("height", res.Height).Msg("render loop active")

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			if err := c.tick(); err != nil {
				c.logger.Error().Err(err).Msg("render loop stopped")
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.emit(Event{Name: c.cfg.Name, State: StateActive, Err: err})
				return
			}
		}
	}
}

// tick runs one cycle. A tick whose source position matches the last
// processed frame does nothing.
func (c *Controller) tick() error {
	pos := c.cfg.Source.Position()

	c.mu.Lock()
	c.stats.Ticks++
	if c.hasLast && pos == c.lastPos {
		c.stats.Skipped++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	frame, err := c.cfg.Source.Frame()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	defer frame.Close()

	ts := c.timestamp()
	started := time.Now()

	res, err := c.det.Detect(&frame.Mat, ts)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	latency := time.Since(started)

	c.mu.Lock()
	c.lastPos = frame.Position
	c.hasLast = true
	c.stats.Inferences++
	c.stats.LastLatency = latency
	c.stats.LastTimestamp = ts
	c.mu.Unlock()

	c.cfg.Surface.Clear()
	if err := c.cfg.Surface.DrawFrame(&frame.Mat); err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	c.cfg.Surface.DrawPrimitives(c.cfg.Annotator.Annotate(res, c.frame))
	c.cfg.Surface.Present()

	c.logger.Trace().
		Int64("position", frame.Position).
		Float64("ts", ts).
		Int("detections", len(res.Detections)).
		Dur("latency", latency).
		Msg("tick")
	return nil
}

// timestamp returns milliseconds since the loop became active, never less
// than the previous one.
func (c *Controller) timestamp() float64 {
	ms := float64(c.cfg.Clock().Sub(c.start)) / float64(time.Millisecond)
	if ms < c.lastTs {
		ms = c.lastTs
	}
	c.lastTs = ms
	return ms
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.mu.Unlock()
		c.logger.Warn().Stringer("from", from).Stringer("to", to).Msg("ignoring state transition")
		return
	}
	c.state = to
	c.mu.Unlock()

	c.logger.Info().Stringer("from", from).Stringer("to", to).Msg("state changed")
	c.emit(Event{Name: c.cfg.Name, State: to})
}

func (c *Controller) emit(e Event) {
	if c.cfg.Observer != nil {
		c.cfg.Observer(e)
	}
}

// Unmount stops the cycle and releases the scheduler, the detector and the
// frame source. It is safe from any state, before Mount and more than once;
// only the first call does anything. It returns the error that ended the
// cycle, if any.
func (c *Controller) Unmount() error {
	c.unmountOnce.Do(func() {
		c.mu.Lock()
		c.unmounted = true
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
			<-c.done
		} else {
			c.finish()
		}

		if err := errors.Join(c.guard.release(), c.guard.lateErr()); err != nil {
			c.logger.Warn().Err(err).Msg("releasing resources")
		}
		c.logger.Info().Stringer("state", c.State()).Msg("unmounted")
	})
	return c.Err()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns a copy of the cycle counters.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Err returns the error that ended the cycle, if any.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Done is closed when the loop goroutine has exited: after a setup failure,
// after an inference error, or after Unmount.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Name returns the configured mode name.
func (c *Controller) Name() string {
	return c.cfg.Name
}
