package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/go_func_utils"
)

const (
	wsWriteWait  = 2 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 16
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// wsCommand is a client message on the live stream
type wsCommand struct {
	Action string `json:"action"` // "start" or "stop"
}

// handleWebSocket pushes every published telemetry state to the client and
// accepts start/stop commands in the other direction
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("Server: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates := make(chan erg.TelemetryState, wsBuffer)
	unregister := s.telemetry.ListenToTelemetry(updates)
	defer unregister()

	closed := make(chan struct{})
	go_func_utils.SafeGo(s.logger, "ws-read", func() { s.readCommands(conn, closed) })

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	if err := s.writeState(conn, s.telemetry.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case state := <-updates:
			if err := s.writeState(conn, state); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeState(conn *websocket.Conn, state erg.TelemetryState) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(state)
}

func (s *Server) readCommands(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("Server: websocket read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch cmd.Action {
		case "start":
			s.session.Start()
		case "stop":
			s.session.Stop(context.Background())
		default:
			s.logger.Printf("Server: ignoring websocket command %q", cmd.Action)
		}
	}
}
