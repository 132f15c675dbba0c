package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may connect; the bearer token is the access check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchGate handles GET /api/v1/bookings/{id}/handover/{kind}/watch
//
// Upgrades to a WebSocket and pushes a GateView each time the gate changes.
// The gate is re-evaluated on connect and every recheck interval; messages
// from the client are ignored. Browsers cannot set headers on a WebSocket,
// so the bearer token may be passed as ?access_token=.
func (h *HandoverHandler) WatchGate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	cred := credential(r)

	// Reject before upgrading so the client sees a normal HTTP status.
	if _, err := h.handoverSvc.Gate(r.Context(), cred, id, kind); err != nil {
		writeError(w, h.log, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views := make(chan model.GateView, 4)
	watcher, err := h.handoverSvc.Watch(ctx, cred, id, kind,
		func(v model.GateView) {
			select {
			case views <- v:
			case <-ctx.Done():
			}
		},
		func(err error) {
			h.log.Warn("gate recheck failed", zap.Int64("booking_id", id), zap.Error(err))
		},
	)
	if err != nil {
		status, body := errorStatus(err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode(status), body.Error), time.Now().Add(writeWait))
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeViews(ctx, conn, views)
		// Unblocks the read loop below if the writer gave up first.
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	watcher.Stop()
	<-writerDone
	h.log.Debug("gate watch closed", zap.Int64("booking_id", id), zap.String("kind", string(kind)))
}

// writeViews is the only goroutine that writes to conn.
func (h *HandoverHandler) writeViews(ctx context.Context, conn *websocket.Conn, views <-chan model.GateView) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case v := <-views:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func closeCode(status int) int {
	switch {
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= 500:
		return websocket.CloseInternalServerErr
	default:
		return websocket.ClosePolicyViolation
	}
}
