package http

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"quiz-attempt-service/internal/domain"
)

// EventSource yields the domain events of one user.
type EventSource interface {
	Subscribe(ctx context.Context, userID string) (<-chan domain.Event, func(), error)
}

// WSHandler streams a user's attempt and achievement events over a websocket.
type WSHandler struct {
	events   EventSource
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(events EventSource, log *zap.Logger) *WSHandler {
	return &WSHandler{
		events: events,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type subscribedPayload struct {
	UserID string `json:"userId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and forwards events until either side closes.
// The user id is expected from the authenticating gateway in front of the service.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	updates, cancel, err := h.events.Subscribe(ctx, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	// Only this goroutine writes to conn; the reader below just watches for close.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := conn.WriteJSON(outboundMessage[subscribedPayload]{Type: "subscribed", Payload: subscribedPayload{UserID: userID}}); err != nil {
			return
		}
		for {
			select {
			case e, ok := <-updates:
				if !ok {
					return
				}
				if err := conn.WriteJSON(outboundMessage[domain.Event]{Type: string(e.Type), Payload: e}); err != nil {
					h.log.Debug("ws write error", zap.Error(err))
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancelCtx()
	<-writerDone
}
