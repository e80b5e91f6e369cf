package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/shepherdjerred/clauderon/internal/metrics"
	"github.com/shepherdjerred/clauderon/internal/pty"
)

// handleWSEvents streams every session lifecycle event as a JSON text
// frame until the client disconnects or the server shuts down.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("ws/events: accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	ctx := r.Context()
	subID, events := s.mgr.Subscribe()
	defer s.mgr.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("ws/events: marshal event failed", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("ws/events: write failed", "error", err)
				return
			}
			metrics.WSMessagesTotal.Inc()
		}
	}
}

// consoleControlMessage is the JSON text-frame control protocol
// accepted on /ws/console/{id}; raw PTY input/output itself travels as
// binary frames.
type consoleControlMessage struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Sig  string `json:"signal,omitempty"`
}

// handleWSConsole attaches the caller to a session's live PTY: binary
// frames carry raw terminal bytes in both directions, text frames carry
// resize/signal control messages. The connecting client is promoted to
// the sole active input producer, matching a single-attached-terminal
// model.
func (s *Server) handleWSConsole(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	ptySess, ok := s.ptys.Get(sessionID)
	if !ok {
		http.Error(w, "session has no attached pty", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("ws/console: accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	ctx := r.Context()
	sub := ptySess.Subscribe()
	defer ptySess.Unsubscribe(sub.ID)
	if err := ptySess.PromoteInput(sub.ID); err != nil {
		slog.Debug("ws/console: promote input failed", "error", err)
	}

	if snap := ptySess.ScreenSnapshot(); len(snap) > 0 {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = conn.Write(writeCtx, websocket.MessageBinary, snap)
		cancel()
	}

	go consoleWriteLoop(ctx, conn, sub.Ch)
	consoleReadLoop(ctx, conn, ptySess, sub.ID)
}

func consoleWriteLoop(ctx context.Context, conn *websocket.Conn, output <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-output:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageBinary, data)
			cancel()
			if err != nil {
				return
			}
			metrics.WSMessagesTotal.Inc()
		}
	}
}

func consoleReadLoop(ctx context.Context, conn *websocket.Conn, ptySess *pty.Session, subID string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			ptySess.Input(subID, data)
		case websocket.MessageText:
			var msg consoleControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "resize":
				ptySess.Resize(msg.Rows, msg.Cols)
			case "signal":
				ptySess.SendSignal(pty.Signal(msg.Sig))
			}
		}
	}
}
