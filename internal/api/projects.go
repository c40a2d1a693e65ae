package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/deploy"
	"github.com/wku/velox-orchestrator/internal/types"
)

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.reg.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.requireProject(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type projectCreateRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Env         map[string]string `json:"env"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("proj-%s", uuid.NewString()[:8])
	}
	now := time.Now().UTC()
	project := &types.Project{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Env:         req.Env,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.reg.SetProject(r.Context(), project); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type projectUpdateRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	SourcePath  *string           `json:"source_path"`
	Env         map[string]string `json:"env"`
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.requireProject(w, r)
	if err != nil {
		return
	}
	var req projectUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.SourcePath != nil {
		project.SourcePath = *req.SourcePath
	}
	if req.Env != nil {
		project.Env = req.Env
	}
	project.UpdatedAt = time.Now().UTC()
	if err := s.reg.SetProject(r.Context(), project); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.requireProject(w, r)
	if err != nil {
		return
	}
	apps, err := s.reg.ApplicationsOfProject(r.Context(), project.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, app := range apps {
		if err := s.engine.RemoveApp(r.Context(), app); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.reg.DeleteProject(r.Context(), project.ID); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deleted")
}

func (s *Server) getProjectApplications(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	apps, err := s.reg.ApplicationsOfProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

// deployProject triggers a project's linked git repo deploy, or replans
// from its source_path if no repo is linked.
func (s *Server) deployProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.requireProject(w, r)
	if err != nil {
		return
	}

	repos, err := s.reg.ListGitRepos(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, repo := range repos {
		if repo.ProjectID == project.ID {
			if _, err := s.engine.DeployFromRepo(r.Context(), repo); err != nil {
				writeError(w, err)
				return
			}
			writeStatus(w, "deploying")
			return
		}
	}

	if project.SourcePath == "" {
		writeError(w, apierr.New(apierr.NotFound, "no deployment source (git or local path) found for this project"))
		return
	}
	parsed, err := deploy.ParseConfigDir(project.SourcePath, "")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.engine.DeployFromConfig(r.Context(), parsed, nil); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deploying")
}

func (s *Server) restartProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.requireProject(w, r)
	if err != nil {
		return
	}
	apps, err := s.reg.ApplicationsOfProject(r.Context(), project.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, app := range apps {
		for _, cid := range app.ContainerIDs {
			if err := s.docker.RestartContainer(r.Context(), cid, 10*time.Second); err != nil {
				writeError(w, err)
				return
			}
		}
	}
	writeStatus(w, "restarted")
}

func (s *Server) requireProject(w http.ResponseWriter, r *http.Request) (*types.Project, error) {
	id := chi.URLParam(r, "projectID")
	project, err := s.reg.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, err
	}
	return project, nil
}
