package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vulndb-tools/vdbctl/internal/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 54 * time.Second

	// Buffered lines replayed to a fresh subscriber
	replayLines = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Dashboard runs on a different origin
	},
}

// handleLogsWS streams build log lines over a websocket: the recent buffer
// first, then every line as the running build appends it.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if allowed, waitTime := s.rateLimiter.AllowAction(ip, "websocket"); !allowed {
		http.Error(w, fmt.Sprintf("Rate limit exceeded. Try again in %v", waitTime.Round(time.Second)), http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Subscribe before replay so lines appended during the replay are not
	// lost; duplicates across the boundary are acceptable.
	lines := s.state.Subscribe()
	defer s.state.Unsubscribe(lines)

	for _, line := range s.state.Recent(replayLines) {
		if writeLine(conn, line) != nil {
			return
		}
	}

	// Discard reads, but use them to notice a closed peer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if writeLine(conn, line) != nil {
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeLine(conn *websocket.Conn, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}
