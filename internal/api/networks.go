package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wku/velox-orchestrator/internal/apierr"
)

func (s *Server) listNetworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.ListNetworks())
}

func (s *Server) getNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "networkID")
	for _, n := range s.reg.ListNetworks() {
		if n.ID == id || n.Name == id {
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	writeError(w, apierr.New(apierr.NotFound, "network "+id+" not found"))
}

type networkCreateRequest struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Subnet   string `json:"subnet"`
	Gateway  string `json:"gateway"`
	Internal bool   `json:"internal"`
}

func (s *Server) createNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Driver == "" {
		req.Driver = "bridge"
	}
	network, err := s.docker.CreateNetwork(r.Context(), req.Name, req.Driver, req.Subnet, req.Gateway, req.Internal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, network)
}

func (s *Server) deleteNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "networkID")
	if err := s.docker.DeleteNetwork(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deleted")
}

func (s *Server) connectContainer(w http.ResponseWriter, r *http.Request) {
	networkID := chi.URLParam(r, "networkID")
	containerID := chi.URLParam(r, "containerID")
	if err := s.docker.ConnectContainer(r.Context(), networkID, containerID); err != nil {
		writeStatus(w, "failed")
		return
	}
	writeStatus(w, "connected")
}

func (s *Server) disconnectContainer(w http.ResponseWriter, r *http.Request) {
	networkID := chi.URLParam(r, "networkID")
	containerID := chi.URLParam(r, "containerID")
	if err := s.docker.DisconnectContainer(r.Context(), networkID, containerID); err != nil {
		writeStatus(w, "failed")
		return
	}
	writeStatus(w, "disconnected")
}
