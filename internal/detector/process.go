package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/engine"
)

// ErrProcessClosed is returned by Detect after Close.
var ErrProcessClosed = errors.New("engine process closed")

// closeTimeout is how long Close waits for the engine to exit after its
// stdin is closed before killing it.
const closeTimeout = 2 * time.Second

// Command describes how to start an engine process.
type Command struct {
	Name string
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Process implements Detector by talking to a long-lived engine subprocess.
// Frames go out as length-prefixed JPEG, results come back as JSON lines.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	closed bool
}

// StartProcess starts the engine, sends opts as the first line and waits for
// the {"ready":true} handshake. The wait is bounded by ctx; on failure the
// process is killed and the error wraps ErrEngineInit.
func StartProcess(ctx context.Context, c Command, opts Options) (*Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create stdin pipe: %v", ErrEngineInit, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create stdout pipe: %v", ErrEngineInit, err)
	}

	name := c.Name
	if name == "" {
		name = c.Path
	}
	cmd.Stderr = log.With().Str("engine", name).Logger()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrEngineInit, name, err)
	}

	p := &Process{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	ready := make(chan error, 1)
	go func() {
		ready <- p.handshake(opts)
	}()

	select {
	case err := <-ready:
		if err != nil {
			p.kill()
			return nil, fmt.Errorf("%w: %s: %v", ErrEngineInit, name, err)
		}
	case <-ctx.Done():
		p.kill()
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineInit, name, ctx.Err())
	}

	log.Debug().Str("engine", name).Str("task", opts.Task).Int("pid", cmd.Process.Pid).Msg("engine process ready")
	return p, nil
}

func (p *Process) handshake(opts Options) error {
	if err := writeLine(p.stdin, opts); err != nil {
		return fmt.Errorf("send options: %w", err)
	}

	var resp InitResponse
	if err := readLine(p.stdout, &resp); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if !resp.Ready {
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return errors.New("engine did not report ready")
	}
	return nil
}

// Detect encodes the frame as JPEG and sends it to the engine.
func (p *Process) Detect(frame *gocv.Mat, timestampMs float64) (*Result, error) {
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return p.DetectJPEG(timestampMs, buf.GetBytes())
}

// DetectJPEG sends an already encoded frame to the engine.
func (p *Process) DetectJPEG(timestampMs float64, jpeg []byte) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProcessClosed
	}

	if err := WriteFrame(p.stdin, timestampMs, jpeg); err != nil {
		return nil, err
	}

	var resp DetectResponse
	if err := readLine(p.stdout, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("engine %s: %s", p.name, resp.Error)
	}

	return &Result{Detections: resp.Detections}, nil
}

// Close shuts down the engine process. It is safe to call more than once.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(closeTimeout):
		log.Warn().Str("engine", p.name).Msg("engine did not exit, killing")
		p.cmd.Process.Kill()
		<-done
		return nil
	}
}

func (p *Process) kill() {
	p.closed = true
	p.stdin.Close()
	p.cmd.Process.Kill()
	p.cmd.Wait()
}

// ProcessFactory returns a Factory that probes eng with executor and then
// starts a long-lived process session. A nil executor skips the probe.
func ProcessFactory(eng *engine.Engine, executor *engine.Executor) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		if executor != nil {
			raw, err := json.Marshal(opts)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
			}

			resp, err := executor.Probe(ctx, eng, &engine.ProbeRequest{Task: opts.Task, Options: raw})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
			}
			if !resp.Success {
				return nil, fmt.Errorf("%w: %s: %s", ErrEngineInit, eng.Manifest.Name, resp.Error)
			}
		}

		return StartProcess(ctx, Command{
			Name: eng.Manifest.Name,
			Path: eng.Executable,
			Dir:  eng.Path,
		}, opts)
	}
}
