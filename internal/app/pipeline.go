package app

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/loop"
	"github.com/ayusman/drishti/internal/mode"
)

// session is one mount of a mode.
type session struct {
	id         string
	mode       mode.Mode
	controller *loop.Controller
	startedAt  time.Time
}

// newSession wires a mode into a render loop: a fresh frame source, the
// mode's detector factory and options, its annotator and a new scheduler.
func (a *App) newSession(m mode.Mode) (*session, error) {
	opts, err := a.options(m)
	if err != nil {
		return nil, err
	}

	s := &session{
		id:        uuid.New().String(),
		mode:      m,
		startedAt: time.Now(),
	}

	s.controller = loop.New(loop.Config{
		Name:      m.Slug,
		Session:   s.id,
		Source:    a.config.NewSource(),
		Surface:   a.config.Surface,
		Factory:   a.config.Factory(m),
		Options:   opts,
		Annotator: m.Annotator,
		Scheduler: a.config.NewScheduler(),
		Clock:     a.config.Clock,
		Observer: func(e loop.Event) {
			ev := Event{
				Type:      EventState,
				Mode:      m.Slug,
				SessionID: s.id,
				State:     e.State,
				Message:   e.State.Message(),
				Time:      time.Now(),
			}
			if e.Err != nil {
				ev.Error = e.Err.Error()
			}
			a.publish(ev)
		},
	})

	log.Info().
		Str("mode", m.Slug).
		Str("session", s.id).
		Str("task", opts.Task).
		Str("model", opts.ModelAssetPath).
		Str("delegate", opts.Delegate).
		Msg("mounting mode")

	return s, nil
}

func (s *session) status() Status {
	st := Status{
		Mode:      s.mode.Slug,
		Title:     s.mode.Title,
		SessionID: s.id,
		State:     s.controller.State(),
		Stats:     s.controller.Stats(),
		StartedAt: s.startedAt,
	}
	st.Message = st.State.Message()
	if err := s.controller.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
