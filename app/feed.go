package app

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/vinayprograms/tasktracker/errors"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/server"
)

const feedWriteTimeout = 10 * time.Second

// newUpgrader accepts websocket connections. Outside production any origin
// is accepted; in production the upgrader's same-origin check applies.
func newUpgrader(production bool) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if !production {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return u
}

// lifecycleFeed streams lifecycle events as JSON text frames. The current
// state is sent first. The feed closes itself with CloseGoingAway once the
// controller starts stopping, since hijacked connections are not drained by
// the HTTP server.
func (a *App) lifecycleFeed(w http.ResponseWriter, r *http.Request) {
	if a.deps.Bus == nil {
		a.writeError(w, r, apperrors.NotFound(
			apperrors.WithMessage("The lifecycle feed is not enabled."),
		))
		return
	}

	sub, err := a.deps.Bus.Subscribe(events.AllLifecycle)
	if err != nil {
		a.writeError(w, r, apperrors.Maintenance(apperrors.WithCause(err)))
		return
	}
	defer sub.Unsubscribe()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return
	}
	defer conn.Close()

	current := server.StateRunning
	if a.deps.Lifecycle != nil {
		current = a.deps.Lifecycle.State()
	}
	if err := a.writeEvent(conn, events.Event{
		State: current.String(),
		At:    time.Now().UTC(),
		Env:   a.deps.Env,
	}); err != nil {
		return
	}

	// Reads are only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(a.deps.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				closeFeed(conn, "event bus closed")
				return
			}
			ev, err := events.Decode(msg)
			if err != nil {
				a.logger.Warn("dropping undecodable lifecycle event", map[string]interface{}{
					"subject": msg.Subject,
				})
				continue
			}
			if err := a.writeEvent(conn, ev); err != nil {
				return
			}
			if ev.State == server.StateStopping.String() || ev.State == server.StateStopped.String() {
				closeFeed(conn, "TaskTracker is shutting down")
				return
			}
		}
	}
}

func (a *App) writeEvent(conn *websocket.Conn, ev events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteJSON(ev)
}

func closeFeed(conn *websocket.Conn, reason string) {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(time.Second),
	)
}
