// Package webhook verifies and dispatches inbound git-provider push
// notifications. Verification is provider-specific (HMAC for GitHub,
// shared-token for GitLab, none for Gitea); successful, non-duplicate
// pushes update the GitRepo's last-seen commit and emit webhook_received
// for the deploy engine to act on.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/eventbus"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Result is the outcome of handling one webhook delivery.
type Result struct {
	Status string `json:"status"` // "accepted", "ignored", or "error"
	Reason string `json:"reason,omitempty"`
	RepoID string `json:"repo_id,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// Handler verifies and dispatches webhook deliveries against the
// registry's GitRepo records.
type Handler struct {
	reg *registry.Registry
	bus *eventbus.Bus
}

// New wires a Handler against an already-open registry and event bus.
func New(reg *registry.Registry, bus *eventbus.Bus) *Handler {
	return &Handler{reg: reg, bus: bus}
}

// pushEvent is the subset of a provider's push payload every handler
// needs: the repository's clone URLs, the pushed branch, and the head
// commit.
type pushEvent struct {
	cloneURLs []string
	branch    string
	commit    string
}

// HandleGitHub verifies an X-Hub-Signature-256 header and dispatches the
// push if the repo is registered and enabled.
func (h *Handler) HandleGitHub(ctx context.Context, body []byte, signature string) (*Result, error) {
	ev, err := parseGitHubPush(body)
	if err != nil {
		return nil, err
	}
	if len(ev.cloneURLs) == 0 || ev.branch == "" {
		return &Result{Status: "ignored", Reason: "missing repo or branch"}, nil
	}

	repo, err := h.findRepo(ctx, ev.cloneURLs, ev.branch)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return &Result{Status: "ignored", Reason: "repo not registered"}, nil
	}
	if !repo.Enabled {
		return &Result{Status: "ignored", Reason: "repo disabled"}, nil
	}
	if !verifyGitHubSignature(body, signature, repo.WebhookSecret) {
		return nil, apierr.New(apierr.SignatureMismatch, "invalid github webhook signature")
	}
	return h.triggerDeploy(ctx, repo, ev.commit)
}

// HandleGitLab checks the X-Gitlab-Token header against the repo's
// configured secret and dispatches the push.
func (h *Handler) HandleGitLab(ctx context.Context, body []byte, token string) (*Result, error) {
	ev, err := parseGitLabPush(body)
	if err != nil {
		return nil, err
	}
	if len(ev.cloneURLs) == 0 || ev.branch == "" {
		return &Result{Status: "ignored", Reason: "missing repo or branch"}, nil
	}

	repo, err := h.findRepo(ctx, ev.cloneURLs, ev.branch)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return &Result{Status: "ignored", Reason: "repo not registered"}, nil
	}
	if !repo.Enabled {
		return &Result{Status: "ignored", Reason: "repo disabled"}, nil
	}
	if !verifyGitLabToken(token, repo.WebhookSecret) {
		return &Result{Status: "error", Reason: "invalid token"}, nil
	}
	return h.triggerDeploy(ctx, repo, ev.commit)
}

// HandleGitea dispatches the push unconditionally (Gitea's webhook has no
// built-in secret header this project verifies against); repo
// registration and enablement are still enforced.
func (h *Handler) HandleGitea(ctx context.Context, body []byte) (*Result, error) {
	ev, err := parseGiteaPush(body)
	if err != nil {
		return nil, err
	}
	if len(ev.cloneURLs) == 0 || ev.branch == "" {
		return &Result{Status: "ignored", Reason: "missing repo or branch"}, nil
	}

	repo, err := h.findRepo(ctx, ev.cloneURLs, ev.branch)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return &Result{Status: "ignored", Reason: "repo not registered"}, nil
	}
	if !repo.Enabled {
		return &Result{Status: "ignored", Reason: "repo disabled"}, nil
	}
	return h.triggerDeploy(ctx, repo, ev.commit)
}

func (h *Handler) findRepo(ctx context.Context, cloneURLs []string, branch string) (*types.GitRepo, error) {
	for _, url := range cloneURLs {
		if url == "" {
			continue
		}
		repo, err := h.reg.GitRepoByURLBranch(ctx, url, branch)
		if err == nil && repo != nil {
			return repo, nil
		}
	}
	return nil, nil
}

// triggerDeploy debounces repeat deliveries of the same commit, records
// the new commit, and emits webhook_received for the deploy engine.
func (h *Handler) triggerDeploy(ctx context.Context, repo *types.GitRepo, commit string) (*Result, error) {
	if repo.LastCommit == commit {
		return &Result{Status: "ignored", Reason: "same commit", RepoID: repo.ID, Commit: commit}, nil
	}

	log.WithProjectID(repo.ProjectID).Info().Str("repo", repo.URL).Str("branch", repo.Branch).Str("commit", shortCommit(commit)).Msg("webhook triggered deploy")

	repo.LastCommit = commit
	now := time.Now()
	repo.LastDeployAt = &now
	if err := h.reg.SetGitRepo(ctx, repo); err != nil {
		return nil, fmt.Errorf("recording last commit for repo %s: %w", repo.ID, err)
	}

	h.bus.Emit(ctx, eventbus.EventWebhookReceived, map[string]any{"repo_id": repo.ID, "commit": commit})
	return &Result{Status: "accepted", RepoID: repo.ID, Commit: commit}, nil
}

// verifyGitHubSignature compares an HMAC-SHA256 of the raw request body
// against the "sha256=..." header value, computed over the bytes exactly
// as received (never a re-serialized or stringified form, which would
// not match what GitHub signed). An unconfigured secret accepts only an
// absent signature.
func verifyGitHubSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return signature == ""
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + fmt.Sprintf("%x", mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func verifyGitLabToken(token, secret string) bool {
	if secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

func parseGitHubPush(body []byte) (*pushEvent, error) {
	var raw struct {
		Repository struct {
			CloneURL string `json:"clone_url"`
			SSHURL   string `json:"ssh_url"`
		} `json:"repository"`
		Ref   string `json:"ref"`
		After string `json:"after"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding github payload: %w", err)
	}
	return &pushEvent{
		cloneURLs: []string{raw.Repository.CloneURL, raw.Repository.SSHURL},
		branch:    branchFromRef(raw.Ref),
		commit:    raw.After,
	}, nil
}

func parseGitLabPush(body []byte) (*pushEvent, error) {
	var raw struct {
		Repository struct {
			GitHTTPURL string `json:"git_http_url"`
		} `json:"repository"`
		Ref         string `json:"ref"`
		CheckoutSHA string `json:"checkout_sha"`
		After       string `json:"after"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding gitlab payload: %w", err)
	}
	commit := raw.CheckoutSHA
	if commit == "" {
		commit = raw.After
	}
	return &pushEvent{
		cloneURLs: []string{raw.Repository.GitHTTPURL},
		branch:    branchFromRef(raw.Ref),
		commit:    commit,
	}, nil
}

func parseGiteaPush(body []byte) (*pushEvent, error) {
	var raw struct {
		Repository struct {
			CloneURL string `json:"clone_url"`
		} `json:"repository"`
		Ref   string `json:"ref"`
		After string `json:"after"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding gitea payload: %w", err)
	}
	return &pushEvent{
		cloneURLs: []string{raw.Repository.CloneURL},
		branch:    branchFromRef(raw.Ref),
		commit:    raw.After,
	}, nil
}

const refHeadsPrefix = "refs/heads/"

func branchFromRef(ref string) string {
	if len(ref) > len(refHeadsPrefix) && ref[:len(refHeadsPrefix)] == refHeadsPrefix {
		return ref[len(refHeadsPrefix):]
	}
	return ""
}
