// v0
// internal/http/stream.go
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamHandler pushes every reading appended after the client connects as
// one JSON text frame. Slow clients miss readings rather than stall ingest.
func streamHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			writeError(w, d.Log, http.StatusBadRequest, "websocket upgrade required")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Log.Warn("stream_upgrade_failed", slog.Any("err", err))
			return
		}
		defer conn.Close()

		readings, cancel := d.Store.Subscribe(d.StreamBuffer)
		defer cancel()
		d.Metrics.StreamClientDelta(1)
		defer d.Metrics.StreamClientDelta(-1)

		log := d.Log.With(slog.String("remote", r.RemoteAddr), slog.String("request_id", RequestID(r.Context())))
		log.Info("stream_client_connected")
		defer log.Info("stream_client_disconnected")

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-d.Done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			case <-gone:
				return
			case reading, ok := <-readings:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(reading); err != nil {
					log.Warn("stream_write_failed", slog.Any("err", err))
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
