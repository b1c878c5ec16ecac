package admin

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rflandau/tandem/tandem/event"
)

// streamBuffer is the number of events queued per subscriber before new ones are dropped.
const streamBuffer = 256

const writeWait = 5 * time.Second

// EventMessage is a single frame of the event stream.
type EventMessage struct {
	Name  string      `json:"name"`
	Event event.Event `json:"event"`
}

// handleEvents upgrades the connection and streams every session event to it as JSON text frames
// until the client disconnects or the server closes.
// Events raised while the subscriber is backed up are dropped.
func (srv *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("event stream upgrade failed")
		return
	}
	defer conn.Close()
	l := srv.log.With().Str("sublogger", "events").Str("remote", r.RemoteAddr).Logger()

	evs := make(chan event.Event, streamBuffer)
	var dropped atomic.Uint64
	off := srv.sess.On(func(ev event.Event) {
		select {
		case evs <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer func() {
		off()
		l.Debug().Uint64("dropped", dropped.Load()).Msg("subscriber detached")
	}()
	l.Debug().Msg("subscriber connected")

	// the client never sends anything meaningful; reading detects its departure
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			l.Debug().Msg("subscriber disconnected")
			return
		case <-srv.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			return
		case <-r.Context().Done():
			return
		case ev := <-evs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(EventMessage{Name: ev.Name(), Event: ev}); err != nil {
				l.Debug().Err(err).Msg("failed to write event; closing stream")
				return
			}
		}
	}
}
