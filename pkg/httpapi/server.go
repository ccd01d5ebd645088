// Package httpapi is the gateway's HTTP surface (SPEC_FULL §3): Ingress,
// Identity, and File Attachment REST endpoints, per-platform webhook
// intake, and the /ws/chat upgrade into the Live Delivery Channel. Routing
// follows the teacher-adjacent pack's chi-based layering
// (erauner12-toolbridge-api's internal/httpapi), narrowed to this
// gateway's own resource set.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sipeed/gatewaybridge/pkg/connectors"
	"github.com/sipeed/gatewaybridge/pkg/files"
	"github.com/sipeed/gatewaybridge/pkg/identity"
	"github.com/sipeed/gatewaybridge/pkg/ingress"
	"github.com/sipeed/gatewaybridge/pkg/live"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// Server holds every collaborator an HTTP handler may need.
type Server struct {
	Identities *identity.Store
	Messages   *messagestore.Store
	Ingress    *ingress.Ingress
	Files      *files.Service
	Live       *live.Hub
	Registry   *connectors.Registry // optional; enables lazy PlatformFileRef resolution on webhook intake
	JWTSecret  string
}

// Routes builds the chi router. Auth applies to everything except the
// health check and platform webhook callbacks. Webhook routes carry no JWT
// check, and HandleWebhook does not verify a platform signature either.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/webhooks/{platform}", func(r chi.Router) {
		r.Post("/", s.HandleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/v1/messages", func(r chi.Router) {
			r.Post("/", s.SendMessage)
			r.Get("/", s.ListMessages)
			r.Get("/{messageID}", s.GetMessage)
			r.Get("/{messageID}/status", s.GetMessageStatus)
		})

		r.Route("/v1/conversations", func(r chi.Router) {
			r.Post("/", s.CreateConversation)
			r.Get("/{conversationID}", s.GetConversation)
			r.Patch("/{conversationID}/participants", s.ModifyParticipants)
		})

		r.Route("/v1/identities", func(r chi.Router) {
			r.Post("/users", s.CreateUser)
			r.Get("/users/{userID}", s.GetUser)
			r.Get("/users/{userID}/identities", s.ListIdentities)
			r.Get("/users/{userID}/suggestions", s.SuggestMatches)
			r.Post("/link", s.LinkIdentity)
			r.Delete("/link", s.UnlinkIdentity)
		})

		r.Route("/v1/files", func(r chi.Router) {
			r.Post("/", s.UploadFile)
			r.Get("/{fileID}", s.GetFile)
			r.Get("/{fileID}/download-url", s.PresignFile)
		})

		r.Get("/ws/chat", s.ServeWS)
	})

	logger.InfoCF("httpapi", "routes registered", nil)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorCF("httpapi", "encode json response failed", map[string]any{"error": err.Error()})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a GatewayError's Kind to the appropriate HTTP status;
// any other error is treated as an unexpected server fault.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsKind(err, model.KindValidation):
		status = http.StatusBadRequest
	case model.IsKind(err, model.KindDuplicate):
		status = http.StatusConflict
	case model.IsKind(err, model.KindNotFound):
		status = http.StatusNotFound
	case model.IsKind(err, model.KindTransient), model.IsKind(err, model.KindCircuitOpen):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
