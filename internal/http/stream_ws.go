package http

import (
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"
)

// streamPushInterval is the cadence of trade-stream pushes to each client.
const streamPushInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// The read API is unauthenticated; origin checks belong to the fronting
	// proxy.
	CheckOrigin: func(*nethttp.Request) bool { return true },
}

// handleStreamWS upgrades the connection and pushes trade-stream snapshots
// on a fixed cadence until the client disconnects.
func (s *Server) handleStreamWS(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	push := func() bool {
		snapshot, err := s.detector.TradeStreamSnapshot(ctx)
		if err != nil {
			s.log.Debug().Err(err).Msg("stream snapshot unavailable for push")
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			return false
		}
		return true
	}

	if !push() {
		return
	}
	ticker := time.NewTicker(streamPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}
