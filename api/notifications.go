package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/garnizeh/hostel/internal/push"
	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Subscriber is satisfied by *redis.Client.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// NotificationsHandler streams pushes published by the redis transport to a
// browser over a websocket.
type NotificationsHandler struct {
	sub      Subscriber
	upgrader websocket.Upgrader
}

// NewNotificationsHandler creates the handler. A nil subscriber makes the
// endpoint answer 503.
func NewNotificationsHandler(sub Subscriber) *NotificationsHandler {
	return &NotificationsHandler{
		sub: sub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Stream serves GET /v1/notifications/ws?device=<token>. The device token
// must be registered to the caller.
func (h *NotificationsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	caller := ProfileFromContext(r.Context())
	device := r.URL.Query().Get("device")
	if device == "" {
		writeError(w, r, apperror.InvalidArgument("notifications/missing-device", "The device query parameter is required."))
		return
	}
	if !slices.Contains(caller.DeviceTokens, device) {
		writeError(w, r, apperror.PermissionDenied(CodeForbidden, "Device is not registered to this account."))
		return
	}
	if h.sub == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "notifications/unavailable", "Realtime notifications are not enabled.")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pubsub := h.sub.Subscribe(ctx, push.DeviceChannel(device))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("subscribe device channel", slog.String("uid", caller.UID), slog.Any("err", err))
		return
	}
	ch := pubsub.Channel()

	// The read loop only detects disconnects; a client that stops answering
	// pings times out after wsPongWait.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				logger.Debug("websocket write failed", slog.String("uid", caller.UID), slog.Any("err", err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-clientClosed:
			return
		case <-ctx.Done():
			return
		}
	}
}
