package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wku/velox-orchestrator/internal/types"
)

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.reg.ListGitRepos(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := s.requireRepo(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

type repoCreateRequest struct {
	ID            string            `json:"id"`
	Provider      types.GitProvider `json:"provider"`
	URL           string            `json:"url"`
	Branch        string            `json:"branch"`
	ConfigFile    string            `json:"config_file"`
	WebhookSecret string            `json:"webhook_secret"`
}

func (s *Server) createRepo(w http.ResponseWriter, r *http.Request) {
	var req repoCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("repo-%s", uuid.NewString()[:8])
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}
	repo := &types.GitRepo{
		ID:            id,
		Provider:      req.Provider,
		URL:           req.URL,
		Branch:        branch,
		ConfigFile:    req.ConfigFile,
		WebhookSecret: req.WebhookSecret,
		Enabled:       true,
	}
	if err := s.reg.SetGitRepo(r.Context(), repo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

type repoUpdateRequest struct {
	Branch        *string `json:"branch"`
	ConfigFile    *string `json:"config_file"`
	WebhookSecret *string `json:"webhook_secret"`
	Enabled       *bool   `json:"enabled"`
}

func (s *Server) updateRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := s.requireRepo(w, r)
	if err != nil {
		return
	}
	var req repoUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Branch != nil {
		repo.Branch = *req.Branch
	}
	if req.ConfigFile != nil {
		repo.ConfigFile = *req.ConfigFile
	}
	if req.WebhookSecret != nil {
		repo.WebhookSecret = *req.WebhookSecret
	}
	if req.Enabled != nil {
		repo.Enabled = *req.Enabled
	}
	if err := s.reg.SetGitRepo(r.Context(), repo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) deleteRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := s.requireRepo(w, r)
	if err != nil {
		return
	}
	if err := s.reg.DeleteGitRepo(r.Context(), repo.ID); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deleted")
}

type deployRepoResponse struct {
	Status       string   `json:"status"`
	Applications []string `json:"applications"`
}

func (s *Server) deployRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := s.requireRepo(w, r)
	if err != nil {
		return
	}
	apps, err := s.engine.DeployFromRepo(r.Context(), repo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployRepoResponse{Status: "deploying", Applications: applicationIDs(apps)})
}

func (s *Server) requireRepo(w http.ResponseWriter, r *http.Request) (*types.GitRepo, error) {
	id := chi.URLParam(r, "repoID")
	repo, err := s.reg.GetGitRepo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, err
	}
	return repo, nil
}

func applicationIDs(apps []*types.Application) []string {
	ids := make([]string, len(apps))
	for i, a := range apps {
		ids[i] = a.ID
	}
	return ids
}
