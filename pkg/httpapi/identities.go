package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

type createUserRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// CreateUser implements POST /v1/identities/users (§4.A).
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed request body", err))
		return
	}

	id, err := s.Identities.CreateUser(r.Context(), req.DisplayName, model.Role(req.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": id})
}

// GetUser implements GET /v1/identities/users/{userID}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.Identities.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ListIdentities implements GET /v1/identities/users/{userID}/identities.
func (s *Server) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Identities.GetIdentities(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// SuggestMatches implements GET /v1/identities/users/{userID}/suggestions —
// advisory-only heuristic candidates (§4.A), never auto-applied.
func (s *Server) SuggestMatches(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.Identities.SuggestMatches(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidate_user_ids": candidates})
}

type linkRequest struct {
	UserID         string `json:"user_id"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
}

// LinkIdentity implements POST /v1/identities/link (§4.A).
func (s *Server) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed request body", err))
		return
	}

	id, err := s.Identities.LinkIdentity(r.Context(), req.UserID, model.Platform(req.Platform), req.PlatformUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"identity_id": id})
}

// UnlinkIdentity implements DELETE /v1/identities/link (§4.A).
func (s *Server) UnlinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed request body", err))
		return
	}

	if err := s.Identities.UnlinkIdentity(r.Context(), req.UserID, model.Platform(req.Platform), req.PlatformUserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
