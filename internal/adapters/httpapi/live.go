package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/usecase"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// liveConn serializes writes from subscription callbacks onto one socket.
type liveConn struct {
	ws     *websocket.Conn
	logger *zap.Logger
	cancel context.CancelFunc

	mu sync.Mutex
}

func (c *liveConn) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(defaultLiveWriteTimeout)); err != nil {
		c.cancel()
		return
	}
	if err := c.ws.WriteJSON(v); err != nil {
		c.logger.Debug("live write failed", zap.Error(err))
		c.cancel()
	}
}

// readUntilClosed discards client frames and cancels once the peer goes away.
func (c *liveConn) readUntilClosed() {
	defer c.cancel()
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
	}
}

// serveLive upgrades the request and keeps it open until the client leaves.
// open starts the subscription and returns its closer.
func (h *Handler) serveLive(w http.ResponseWriter, r *http.Request, open func(ctx context.Context, c *liveConn) (func(), error)) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &liveConn{ws: ws, logger: h.logger, cancel: cancel}

	closeSub, err := open(ctx, c)
	if err != nil {
		h.logger.Warn("live subscription failed", zap.Error(err))
		c.send(map[string]string{"error": err.Error()})
		return
	}
	defer closeSub()

	go c.readUntilClosed()
	<-ctx.Done()
	c.mu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
}

func (h *Handler) liveDashboard(w http.ResponseWriter, r *http.Request) {
	owner := sessionFrom(r.Context()).user.UID
	h.serveLive(w, r, func(ctx context.Context, c *liveConn) (func(), error) {
		dash, err := usecase.OpenLiveDashboard(ctx, h.hub, owner, func(s usecase.Summary) { c.send(s) })
		if err != nil {
			return nil, err
		}
		return dash.Close, nil
	})
}

func (h *Handler) liveCollection(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !requireCollection(w, collection) {
		return
	}
	owner := sessionFrom(r.Context()).user.UID
	h.serveLive(w, r, func(ctx context.Context, c *liveConn) (func(), error) {
		sub, err := h.hub.ListenToUserCollection(ctx, collection, owner, func(recs []domain.Record) {
			c.send(map[string]any{"items": recs})
		})
		if err != nil {
			return nil, err
		}
		return sub.Close, nil
	})
}

// liveItem streams one record. Records of other owners are reported as
// missing.
func (h *Handler) liveItem(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !requireCollection(w, collection) {
		return
	}
	id := chi.URLParam(r, "id")
	owner := sessionFrom(r.Context()).user.UID
	h.serveLive(w, r, func(ctx context.Context, c *liveConn) (func(), error) {
		sub, err := h.hub.ListenToItem(ctx, collection, id, func(rec *domain.Record) {
			if rec != nil && rec.OwnerID != owner {
				rec = nil
			}
			c.send(map[string]any{"item": rec})
		})
		if err != nil {
			return nil, err
		}
		return sub.Close, nil
	})
}
