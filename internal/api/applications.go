package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wku/velox-orchestrator/internal/types"
)

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.reg.ListApplications(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type applicationCreateRequest struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Name         string            `json:"name"`
	Source       types.DeploySource `json:"source"`
	SourceURL    string            `json:"source_url"`
	SourceBranch string            `json:"source_branch"`
	Dockerfile   string            `json:"dockerfile"`
	BuildContext string            `json:"build_context"`
	Image        string            `json:"image"`
	Domain       string            `json:"domain"`
	Port         int               `json:"port"`
	Env          map[string]string `json:"env"`
	Volumes      []string          `json:"volumes"`
	Networks     []string          `json:"networks"`
	Replicas     int               `json:"replicas"`
}

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	var req applicationCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("app-%s", uuid.NewString()[:8])
	}
	replicas := req.Replicas
	if replicas == 0 {
		replicas = 1
	}
	now := time.Now().UTC()
	app := &types.Application{
		ID:           id,
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		Source:       req.Source,
		SourceURL:    req.SourceURL,
		SourceBranch: req.SourceBranch,
		Dockerfile:   req.Dockerfile,
		BuildContext: req.BuildContext,
		Image:        req.Image,
		Domain:       req.Domain,
		Port:         req.Port,
		Env:          req.Env,
		Volumes:      req.Volumes,
		Networks:     req.Networks,
		Replicas:     replicas,
		Status:       types.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.reg.SetApplication(r.Context(), app); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type applicationUpdateRequest struct {
	Name         *string           `json:"name"`
	SourceURL    *string           `json:"source_url"`
	SourceBranch *string           `json:"source_branch"`
	Dockerfile   *string           `json:"dockerfile"`
	Image        *string           `json:"image"`
	Domain       *string           `json:"domain"`
	Port         *int              `json:"port"`
	Env          map[string]string `json:"env"`
	Volumes      []string          `json:"volumes"`
	Replicas     *int              `json:"replicas"`
}

func (s *Server) updateApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	var req applicationUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name != nil {
		app.Name = *req.Name
	}
	if req.SourceURL != nil {
		app.SourceURL = *req.SourceURL
	}
	if req.SourceBranch != nil {
		app.SourceBranch = *req.SourceBranch
	}
	if req.Dockerfile != nil {
		app.Dockerfile = *req.Dockerfile
	}
	if req.Image != nil {
		app.Image = *req.Image
	}
	if req.Domain != nil {
		app.Domain = *req.Domain
	}
	if req.Port != nil {
		app.Port = *req.Port
	}
	if req.Env != nil {
		app.Env = req.Env
	}
	if req.Volumes != nil {
		app.Volumes = req.Volumes
	}
	if req.Replicas != nil {
		app.Replicas = *req.Replicas
	}
	app.UpdatedAt = time.Now().UTC()
	if err := s.reg.SetApplication(r.Context(), app); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) deleteApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	if err := s.engine.RemoveApp(r.Context(), app); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deleted")
}

func (s *Server) deployApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	deployment, err := s.engine.Deploy(r.Context(), app)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (s *Server) stopApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	if err := s.engine.StopApp(r.Context(), app); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "stopped")
}

type rollbackRequest struct {
	Version int `json:"version"`
}

func (s *Server) rollbackApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	deployment, err := s.engine.Rollback(r.Context(), app, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (s *Server) getDeployments(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	deployments, err := s.reg.DeploymentsOfApp(r.Context(), appID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

type logsResponse struct {
	Logs map[string]string `json:"logs"`
}

func (s *Server) getApplicationLogs(w http.ResponseWriter, r *http.Request) {
	app, err := s.requireApplication(w, r)
	if err != nil {
		return
	}
	tail := tailParam(r)
	logs := make(map[string]string, len(app.ContainerIDs))
	for _, cid := range app.ContainerIDs {
		text, err := s.docker.ContainerLogs(r.Context(), cid, tail)
		if err != nil {
			writeError(w, err)
			return
		}
		logs[cid] = text
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: logs})
}

type deployLogsResponse struct {
	Logs    string            `json:"logs"`
	Status  types.DeployStatus `json:"status,omitempty"`
	Version int               `json:"version,omitempty"`
}

func (s *Server) getDeployLogs(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	deployments, err := s.reg.DeploymentsOfApp(r.Context(), appID, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(deployments) == 0 {
		writeJSON(w, http.StatusOK, deployLogsResponse{Logs: "no deployments found"})
		return
	}
	latest := deployments[0]
	writeJSON(w, http.StatusOK, deployLogsResponse{Logs: latest.Logs, Status: latest.Status, Version: latest.Version})
}

func (s *Server) requireApplication(w http.ResponseWriter, r *http.Request) (*types.Application, error) {
	id := chi.URLParam(r, "appID")
	app, err := s.reg.GetApplication(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, err
	}
	return app, nil
}

func tailParam(r *http.Request) int {
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 100
}
