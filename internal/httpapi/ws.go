package httpapi

import (
	"net/http"
	"time"

	"call-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already ran; the socket carries no state-changing
	// operations, so cross-origin reads are acceptable.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WatchCall streams snapshots of one call over a websocket. The client
// gets the current record immediately, then every subsequent mutation
// until the socket closes or the watch is cancelled. Only participants
// may watch; the initial authorized read enforces that.
func (h Handlers) WatchCall(c *gin.Context) {
	callID := c.Param("call_id")

	snapshot, err := h.Calls.GetCallDetails(c.Request.Context(), callID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		logger.FromGin(c).Warn("websocket upgrade failed", "call_id", callID, "err", err)
		return
	}
	defer conn.Close()

	log := logger.FromGin(c).With("call_id", callID)

	updates, stop := h.Watcher.WatchCall(c.Request.Context(), callID)
	defer stop()

	// Reader goroutine: the client never sends data frames, but reading
	// is what surfaces close frames and dead peers.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			log.Debug("websocket write failed", "err", err)
			return false
		}
		return true
	}

	if !write(snapshot) {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case call, ok := <-updates:
			if !ok {
				return
			}
			if !write(call) {
				return
			}
			if call.Status.IsTerminal() {
				// The record is immutable now; nothing further will
				// ever arrive.
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
