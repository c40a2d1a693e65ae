package api

import (
	"net/http"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/deploy"
)

type deployYAMLRequest struct {
	DeployContent  string `json:"deploy_content"`
	ComposeContent string `json:"compose_content"`
}

type deployResponse struct {
	Status       string   `json:"status"`
	Applications []string `json:"applications"`
}

// deployYAML accepts inline deploy.yaml and docker-compose.yml text,
// letting a caller deploy without pushing to a registered git repo.
func (s *Server) deployYAML(w http.ResponseWriter, r *http.Request) {
	var req deployYAMLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeployContent == "" || req.ComposeContent == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "deploy_content and compose_content required"))
		return
	}

	parsed, err := deploy.ParseConfigStrings(req.DeployContent, req.ComposeContent)
	if err != nil {
		writeError(w, err)
		return
	}
	apps, err := s.engine.DeployFromConfig(r.Context(), parsed, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployResponse{Status: "deploying", Applications: applicationIDs(apps)})
}

type deployLocalRequest struct {
	Path string `json:"path"`
}

// deployLocal deploys from a docker-compose.yml / deploy.yaml pair
// already present on disk, as populated by an out-of-band checkout.
func (s *Server) deployLocal(w http.ResponseWriter, r *http.Request) {
	var req deployLocalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	parsed, err := deploy.ParseConfigDir(req.Path, "")
	if err != nil {
		writeError(w, err)
		return
	}
	apps, err := s.engine.DeployFromConfig(r.Context(), parsed, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployResponse{Status: "deploying", Applications: applicationIDs(apps)})
}
