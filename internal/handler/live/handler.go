package live

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ventlabs/vent-backend/internal/model/chat"
	"github.com/ventlabs/vent-backend/internal/store"
)

// Handler pushes live conversation snapshots over websocket.
type Handler struct {
	store    store.MessageStore
	limit    int
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates the live-feed handler.
func New(st store.MessageStore, limit int, logger zerolog.Logger) *Handler {
	return &Handler{
		store:  st,
		limit:  limit,
		logger: logger.With().Str("component", "live-handler").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the live feed route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/live", h.handleLive)
}

// snapshotEvent is one pushed frame: the full current window, oldest first.
type snapshotEvent struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages"`
}

// handleLive upgrades the connection, subscribes to the conversation and
// forwards every snapshot until either side goes away. The subscription is
// released synchronously on exit.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.store.Subscribe(conversationID, h.limit)
	defer sub.Close()

	h.logger.Debug().Str("conversation", conversationID).Msg("live feed opened")

	// Drain reads so client close frames are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case snapshot, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			ascending := make([]chat.Message, len(snapshot))
			for i, msg := range snapshot {
				ascending[len(snapshot)-1-i] = msg
			}
			if err := conn.WriteJSON(snapshotEvent{Type: "snapshot", Messages: ascending}); err != nil {
				h.logger.Debug().Err(err).Str("conversation", conversationID).Msg("live feed closed")
				return
			}
		}
	}
}
