package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wku/velox-orchestrator/internal/apierr"
)

func (s *Server) listContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.reg.ListContainers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (s *Server) getContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	container, ok := s.reg.GetContainer(id)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "container "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, container)
}

func (s *Server) startContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	if err := s.docker.StartContainer(r.Context(), id); err != nil {
		writeStatus(w, "failed")
		return
	}
	writeStatus(w, "started")
}

func (s *Server) stopContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	if err := s.docker.StopContainer(r.Context(), id, 10*time.Second); err != nil {
		writeStatus(w, "failed")
		return
	}
	writeStatus(w, "stopped")
}

func (s *Server) restartContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	if err := s.docker.RestartContainer(r.Context(), id, 10*time.Second); err != nil {
		writeStatus(w, "failed")
		return
	}
	writeStatus(w, "restarted")
}

func (s *Server) getContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerID")
	logs, err := s.docker.ContainerLogs(r.Context(), id, tailParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
