package api

import (
	"io"
	"net/http"

	"github.com/wku/velox-orchestrator/internal/metrics"
)

func (s *Server) handleWebhookGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.webhook.HandleGitHub(r.Context(), body, r.Header.Get("X-Hub-Signature-256"))
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.WebhooksReceivedTotal.WithLabelValues("github", result.Status).Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWebhookGitLab(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.webhook.HandleGitLab(r.Context(), body, r.Header.Get("X-Gitlab-Token"))
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.WebhooksReceivedTotal.WithLabelValues("gitlab", result.Status).Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWebhookGitea(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.webhook.HandleGitea(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.WebhooksReceivedTotal.WithLabelValues("gitea", result.Status).Inc()
	writeJSON(w, http.StatusOK, result)
}
