package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wku/velox-orchestrator/internal/types"
)

func (s *Server) listCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := s.reg.ListCertificates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certs)
}

func (s *Server) getCertificate(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	cert, err := s.reg.GetCertificate(r.Context(), domain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

type certificateRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) requestCertificate(w http.ResponseWriter, r *http.Request) {
	var req certificateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cert, err := s.acme.ObtainCertificate(r.Context(), req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) getMiddleware(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	mw, err := s.reg.GetMiddleware(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mw)
}

type middlewareCreateRequest struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

func (s *Server) createMiddleware(w http.ResponseWriter, r *http.Request) {
	var req middlewareCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mw := &types.Middleware{Name: req.Name, Type: req.Type, Config: req.Config}
	if err := s.reg.SetMiddleware(r.Context(), mw); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mw)
}
