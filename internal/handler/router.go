package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nimblechat/backend/internal/handler/chat"
	"github.com/nimblechat/backend/internal/handler/stream"
	"github.com/nimblechat/backend/internal/handler/upload"
	middlewarePkg "github.com/nimblechat/backend/internal/middleware"
	aiservice "github.com/nimblechat/backend/internal/service/ai"
	chatservice "github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/internal/service/extract"
	"github.com/nimblechat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. aiSvc may be nil when no
// model credentials are configured; the session endpoints keep working and
// everything that needs the model answers 503.
func NewRouter(chatSvc *chatservice.Service, aiSvc *aiservice.Service, extractor *extract.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// A nil *ai.Service must stay a nil interface inside the handlers, so
	// the conversion only happens when the service exists.
	var (
		chatHandler   *chat.Handler
		uploadHandler *upload.Handler
		streamHandler *stream.Handler
		wsHandler     *chat.WebSocketHandler
	)
	if aiSvc != nil {
		chatHandler = chat.New(chatSvc, aiSvc)
		uploadHandler = upload.New(chatSvc, aiSvc, extractor)
		streamHandler = stream.New(aiSvc, chatSvc)
		wsHandler = chat.NewWebSocketHandler(chatSvc, aiSvc)
	} else {
		chatHandler = chat.New(chatSvc, nil)
		uploadHandler = upload.New(chatSvc, nil, extractor)
	}

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		uploadHandler.RegisterRoutes(api)

		api.Get("/chat/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if streamHandler == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "assistant not configured")
				return
			}
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			// Errors are reported inside the stream as an "error" event;
			// headers are already written by then.
			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})

		if wsHandler != nil {
			wsHandler.RegisterRoutes(api)
		} else {
			api.Get("/chat/ws/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "assistant not configured")
			})
		}
	})

	return r
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"service": "AI Chat Assistant",
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "AI Chat Assistant is running",
	})
}
