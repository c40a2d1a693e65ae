package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wku/velox-orchestrator/internal/types"
)

type secretSummary struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	secrets, err := s.reg.SecretsOfProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]secretSummary, len(secrets))
	for i, sec := range secrets {
		summaries[i] = secretSummary{Name: sec.Name, CreatedAt: sec.CreatedAt}
	}
	writeJSON(w, http.StatusOK, summaries)
}

type secretCreateRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	var req secretCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	secret := &types.Secret{
		ID:        types.SecretID(req.ProjectID, req.Name),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Value:     req.Value,
	}
	if err := s.reg.SetSecret(r.Context(), secret); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "created")
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	name := chi.URLParam(r, "name")
	if err := s.reg.DeleteSecret(r.Context(), types.SecretID(projectID, name)); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deleted")
}
