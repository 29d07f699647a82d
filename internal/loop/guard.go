package loop

import (
	"errors"
	"fmt"
	"sync"
)

type releaser struct {
	name string
	fn   func() error
}

// guard collects the release functions of a mount's resources and runs them
// exactly once, last registered first.
type guard struct {
	mu        sync.Mutex
	releasers []releaser
	released  bool
	late      error
}

// add registers fn. After release, fn runs immediately and its error is
// kept for lateErr.
func (g *guard) add(name string, fn func() error) {
	g.mu.Lock()
	if !g.released {
		g.releasers = append(g.releasers, releaser{name: name, fn: fn})
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if err := fn(); err != nil {
		g.mu.Lock()
		g.late = errors.Join(g.late, fmt.Errorf("release %s: %w", name, err))
		g.mu.Unlock()
	}
}

// lateErr returns the errors of functions added after release.
func (g *guard) lateErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.late
}

// release runs every registered function. Later calls do nothing.
func (g *guard) release() error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return nil
	}
	g.released = true
	releasers := g.releasers
	g.releasers = nil
	g.mu.Unlock()

	var errs []error
	for i := len(releasers) - 1; i >= 0; i-- {
		r := releasers[i]
		if err := r.fn(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}
