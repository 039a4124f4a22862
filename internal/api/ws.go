package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/tilecity/internal/placement"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsCommand is a client message: place, remove, undo, redo or inspect.
type wsCommand struct {
	Type string      `json:"type"`
	Cell cellRequest `json:"cell"`
}

// wsMessage is a server message. Type is "event", "result" or "error".
type wsMessage struct {
	Type   string           `json:"type"`
	Event  *placement.Event `json:"event,omitempty"`
	Result any              `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// handleWS upgrades to a websocket that carries commands in and change
// events plus command results out.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.wsConns, 1)
	if current > maxWSConns {
		atomic.AddInt32(&s.wsConns, -1)
		http.Error(w, "too many websocket connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.wsConns, -1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, events := s.Coord.Subscribe()
	defer s.Coord.Unsubscribe(subID)
	slog.Info("websocket client connected", "sub_id", subID)

	send := make(chan wsMessage, 64)
	stop := make(chan struct{})
	done := make(chan struct{})

	// Single writer owns the connection's write side.
	go func() {
		defer close(done)
		for {
			select {
			case msg := <-send:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					slog.Debug("websocket write failed", "sub_id", subID, "error", err)
					return
				}
			case <-stop:
				return
			}
		}
	}()

	// Forward change events until the reader stops.
	go func() {
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- wsMessage{Type: "event", Event: &e}:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "sub_id", subID, "error", err)
			}
			break
		}
		msg := s.runCommand(cmd)
		select {
		case send <- msg:
		case <-done:
		}
	}

	close(stop)
	<-done
	slog.Info("websocket client disconnected", "sub_id", subID)
}

func (s *Server) runCommand(cmd wsCommand) wsMessage {
	switch cmd.Type {
	case "place":
		res, _ := s.place(cmd.Cell)
		return wsMessage{Type: "result", Result: res}
	case "remove":
		if err := s.Coord.Remove(cmd.Cell.X, cmd.Cell.Y); err != nil {
			return wsMessage{Type: "error", Error: err.Error()}
		}
		return wsMessage{Type: "result", Result: map[string]any{"removed": true}}
	case "undo", "redo":
		undo := s.Coord.Undo
		if cmd.Type == "redo" {
			undo = s.Coord.Redo
		}
		res, err := newUndoResult(undo())
		if err != nil {
			return wsMessage{Type: "error", Error: err.Error()}
		}
		return wsMessage{Type: "result", Result: res}
	case "inspect":
		p, err := s.Coord.Inspect(cmd.Cell.X, cmd.Cell.Y)
		if err != nil {
			return wsMessage{Type: "error", Error: err.Error()}
		}
		return wsMessage{Type: "result", Result: newCellView(p)}
	default:
		return wsMessage{Type: "error", Error: "unknown command " + cmd.Type}
	}
}
