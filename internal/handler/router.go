package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/handler/conversation"
	"github.com/zhouzirui/studydesk/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/studydesk/internal/middleware"
	aiService "github.com/zhouzirui/studydesk/internal/service/ai"
	chatService "github.com/zhouzirui/studydesk/internal/service/chat"
	"github.com/zhouzirui/studydesk/pkg/utils"
)

// NewRouter wires HTTP routes to core services. aiSvc may be nil.
func NewRouter(chatSvc *chatService.Service, aiSvc *aiService.Service, streamCfg config.StreamConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     aiSvc != nil,
		})
	})

	r.Route("/api/v1", func(api chi.Router) {
		conversation.New(chatSvc).RegisterRoutes(api)
		stream.New(aiSvc, chatSvc, streamCfg).RegisterRoutes(api)
	})

	return r
}
