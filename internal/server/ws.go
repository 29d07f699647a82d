package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/app"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Events publishes mode state changes.
type Events interface {
	Status
	Subscribe() (<-chan app.Event, func())
}

// EventsHandler relays mode state events to websocket clients. A new
// client first receives the current state.
type EventsHandler struct {
	events Events
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(events Events) *EventsHandler {
	return &EventsHandler{events: events}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe()
	defer cancel()

	// Reading detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if st, ok := h.events.Current(); ok {
		snapshot := app.Event{
			Type:      app.EventState,
			Mode:      st.Mode,
			SessionID: st.SessionID,
			State:     st.State,
			Message:   st.Message,
			Error:     st.Error,
			Time:      time.Now(),
		}
		if err := h.write(conn, snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := h.write(conn, e); err != nil {
				log.Debug().Err(err).Msg("websocket client gone")
				return
			}
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, e app.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
