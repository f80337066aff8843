// README: Notification endpoints: polling, websocket stream and device registration.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"carpool/internal/notify"
)

const (
	defaultPollLimit = 50
	maxPollLimit     = 200
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mobile clients send no Origin; auth is the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

type EventHandler struct {
	broker *notify.Broker
	tokens notify.TokenStore
	logger *slog.Logger
}

func NewEventHandler(broker *notify.Broker, tokens notify.TokenStore, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{broker: broker, tokens: tokens, logger: logger}
}

// Poll returns the caller's events with seq greater than ?after.
func (h *EventHandler) Poll(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid after")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPollLimit)))
	if err != nil || limit <= 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxPollLimit {
		limit = maxPollLimit
	}
	events := h.broker.Since(caller(c), after, limit)
	last := after
	if n := len(events); n > 0 {
		last = events[n-1].Seq
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events, "last_seq": last})
}

// Stream upgrades to a websocket and pushes the caller's events as JSON frames.
func (h *EventHandler) Stream(c *gin.Context) {
	uid := caller(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", uid, "error", err)
		return
	}
	events, cancel := h.broker.Subscribe(uid)
	defer cancel()
	defer conn.Close()

	// The read loop only consumes control frames and notices the client leaving.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed", "user_id", uid, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type registerDeviceReq struct {
	Token string `json:"token"`
}

func (h *EventHandler) RegisterDevice(c *gin.Context) {
	var req registerDeviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" || len(token) > 4096 {
		writeError(c, http.StatusBadRequest, "invalid token")
		return
	}
	if err := h.tokens.Register(c.Request.Context(), caller(c), token); err != nil {
		h.logger.Error("register device token", "user_id", caller(c), "error", err)
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}
