package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	chatHandler "github.com/ventlabs/vent-backend/internal/handler/chat"
	liveHandler "github.com/ventlabs/vent-backend/internal/handler/live"
	middlewarePkg "github.com/ventlabs/vent-backend/internal/middleware"
	"github.com/ventlabs/vent-backend/internal/service/conversation"
	"github.com/ventlabs/vent-backend/internal/service/oracle"
	"github.com/ventlabs/vent-backend/internal/store"
	"github.com/ventlabs/vent-backend/pkg/utils"
)

// Options carries the handler-level settings the router needs.
type Options struct {
	SystemPrompt string
	HistoryLimit int
	Logger       zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(st store.MessageStore, oc oracle.Client, manager *conversation.Manager, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatH := chatHandler.New(st, oc, manager, opts.SystemPrompt, opts.HistoryLimit, opts.Logger)
	liveH := liveHandler.New(st, opts.HistoryLimit, opts.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chatH.RegisterRoutes(api)
		liveH.RegisterRoutes(api)
	})

	return r
}
