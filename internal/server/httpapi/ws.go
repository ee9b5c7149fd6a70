package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same origin; cross-origin metric
	// reads are harmless.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// metricsWebSocket streams metric snapshots to the client until it
// disconnects or the request context ends.
func (api *apiServer) metricsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger().Error("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	interval := api.deps.PushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ctx := c.Request.Context()

	// Read pump: we never expect client frames, but reading is the only
	// way to notice a closed connection between pushes.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := api.pushSnapshot(c, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case <-ticker.C:
			if err := api.pushSnapshot(c, conn); err != nil {
				return
			}
		}
	}
}

func (api *apiServer) pushSnapshot(c *gin.Context, conn *websocket.Conn) error {
	snap, err := api.deps.Collector.Snapshot(c.Request.Context())
	if err != nil {
		api.logger().Error("metrics snapshot", "error", err)
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(snap); err != nil {
		api.logger().Debug("websocket write", "error", err)
		return err
	}
	return nil
}
