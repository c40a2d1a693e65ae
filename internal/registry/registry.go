// Package registry is the single source of truth for control-plane state.
// It composes a durable store (internal/storage/pg) with a hot cache
// (internal/storage/cache) per the write protocol: durable upsert inside a
// transaction, pipelined cache mirror, config:version bump. Cache failures
// after a successful durable write are logged, not propagated. Reads are
// served from the durable store and never refill the cache, so a failed
// mirror stays stale until that entity is written again.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wku/velox-orchestrator/internal/eventbus"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/storage/cache"
	"github.com/wku/velox-orchestrator/internal/storage/pg"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Registry is the composed durable+cache store plus the in-memory mirrors
// of runtime state that never need durability.
type Registry struct {
	store *pg.Store
	cache *cache.Cache
	bus   *eventbus.Bus

	mu         sync.RWMutex
	networks   map[string]*types.DockerNetwork
	containers map[string]*types.DockerContainer
}

// New composes a Registry from an already-open durable store, hot cache,
// and event bus.
func New(store *pg.Store, c *cache.Cache, bus *eventbus.Bus) *Registry {
	return &Registry{
		store:      store,
		cache:      c,
		bus:        bus,
		networks:   make(map[string]*types.DockerNetwork),
		containers: make(map[string]*types.DockerContainer),
	}
}

func (r *Registry) mirrorFailed(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	log.Logger.Error().Err(err).Str("op", op).Msg("hot cache mirror failed, entry left stale")
}

// Ping checks that both the durable store and the hot cache are reachable.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("durable store: %w", err)
	}
	if err := r.cache.Ping(ctx); err != nil {
		return fmt.Errorf("hot cache: %w", err)
	}
	return nil
}

// --- Projects ---------------------------------------------------------

func (r *Registry) SetProject(ctx context.Context, p *types.Project) error {
	return r.store.UpsertProject(ctx, p)
}

func (r *Registry) GetProject(ctx context.Context, id string) (*types.Project, error) {
	return r.store.GetProject(ctx, id)
}

func (r *Registry) ListProjects(ctx context.Context) ([]*types.Project, error) {
	return r.store.ListProjects(ctx)
}

func (r *Registry) DeleteProject(ctx context.Context, id string) error {
	return r.store.DeleteProject(ctx, id)
}

// --- Applications -------------------------------------------------------

func (r *Registry) SetApplication(ctx context.Context, a *types.Application) error {
	return r.store.UpsertApplication(ctx, a)
}

func (r *Registry) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	return r.store.GetApplication(ctx, id)
}

func (r *Registry) ListApplications(ctx context.Context) ([]*types.Application, error) {
	return r.store.ListApplications(ctx)
}

func (r *Registry) ApplicationsOfProject(ctx context.Context, projectID string) ([]*types.Application, error) {
	return r.store.ApplicationsOfProject(ctx, projectID)
}

func (r *Registry) DeleteApplication(ctx context.Context, id string) error {
	return r.store.DeleteApplication(ctx, id)
}

// --- Routes ---------------------------------------------------------

// SetRoute runs the full write protocol: durable upsert, pipelined cache
// mirror, config:version bump.
func (r *Registry) SetRoute(ctx context.Context, route *types.Route) error {
	if err := r.store.UpsertRoute(ctx, route); err != nil {
		return err
	}
	if err := r.cache.SetRoute(ctx, route); err != nil {
		r.mirrorFailed(ctx, "set_route", err)
		return nil
	}
	if _, err := r.cache.BumpVersion(ctx); err != nil {
		r.mirrorFailed(ctx, "bump_version", err)
	}
	return nil
}

// GetRoute reads through the durable store; it is authoritative and never
// served from the cache.
func (r *Registry) GetRoute(ctx context.Context, id string) (*types.Route, error) {
	return r.store.GetRoute(ctx, id)
}

func (r *Registry) ListRoutes(ctx context.Context) ([]*types.Route, error) {
	return r.store.ListRoutes(ctx)
}

func (r *Registry) RoutesByHost(ctx context.Context, host string) ([]*types.Route, error) {
	return r.store.RoutesByHost(ctx, host)
}

// DeleteRoute removes the route durably, then from the serialized-route
// key, the upstreams list, the per-host index, and the enabled set.
func (r *Registry) DeleteRoute(ctx context.Context, route *types.Route) error {
	if err := r.store.DeleteRoute(ctx, route.ID); err != nil {
		return err
	}
	if err := r.cache.DeleteRoute(ctx, route); err != nil {
		r.mirrorFailed(ctx, "delete_route", err)
		return nil
	}
	if _, err := r.cache.BumpVersion(ctx); err != nil {
		r.mirrorFailed(ctx, "bump_version", err)
	}
	r.bus.Emit(ctx, eventbus.EventRoutesUpdated, map[string]any{"route_id": route.ID, "deleted": true})
	return nil
}

// --- Deployments -------------------------------------------------------

func (r *Registry) InsertDeployment(ctx context.Context, d *types.Deployment) error {
	return r.store.InsertDeployment(ctx, d)
}

func (r *Registry) UpdateDeployment(ctx context.Context, d *types.Deployment) error {
	return r.store.UpdateDeployment(ctx, d)
}

func (r *Registry) LastDeploymentVersion(ctx context.Context, appID string) (int, error) {
	return r.store.LastDeploymentVersion(ctx, appID)
}

// DeploymentsOfApp returns the most recent deployments of appID, newest
// first, limited to limit rows (0 means unlimited).
func (r *Registry) DeploymentsOfApp(ctx context.Context, appID string, limit int) ([]*types.Deployment, error) {
	return r.store.DeploymentsOfApp(ctx, appID, limit)
}

// --- Git repos -------------------------------------------------------

func (r *Registry) SetGitRepo(ctx context.Context, g *types.GitRepo) error {
	return r.store.UpsertGitRepo(ctx, g)
}

func (r *Registry) GetGitRepo(ctx context.Context, id string) (*types.GitRepo, error) {
	return r.store.GetGitRepo(ctx, id)
}

func (r *Registry) GitRepoByURLBranch(ctx context.Context, url, branch string) (*types.GitRepo, error) {
	return r.store.GitRepoByURLBranch(ctx, url, branch)
}

func (r *Registry) ListGitRepos(ctx context.Context) ([]*types.GitRepo, error) {
	return r.store.ListGitRepos(ctx)
}

func (r *Registry) DeleteGitRepo(ctx context.Context, id string) error {
	return r.store.DeleteGitRepo(ctx, id)
}

// --- Secrets -------------------------------------------------------

func (r *Registry) SetSecret(ctx context.Context, s *types.Secret) error {
	return r.store.UpsertSecret(ctx, s)
}

func (r *Registry) GetSecret(ctx context.Context, id string) (*types.Secret, error) {
	return r.store.GetSecret(ctx, id)
}

func (r *Registry) SecretsOfProject(ctx context.Context, projectID string) ([]*types.Secret, error) {
	return r.store.SecretsOfProject(ctx, projectID)
}

func (r *Registry) DeleteSecret(ctx context.Context, id string) error {
	return r.store.DeleteSecret(ctx, id)
}

// --- Certificates -------------------------------------------------------

// SetCertificate upserts durably, mirrors to the cache (serialized cert
// plus the expiring-soon sorted set), and bumps config:version.
func (r *Registry) SetCertificate(ctx context.Context, cert *types.Certificate) error {
	if err := r.store.UpsertCertificate(ctx, cert); err != nil {
		return err
	}
	if err := r.cache.SetCertificate(ctx, cert); err != nil {
		r.mirrorFailed(ctx, "set_certificate", err)
		return nil
	}
	if _, err := r.cache.BumpVersion(ctx); err != nil {
		r.mirrorFailed(ctx, "bump_version", err)
	}
	return nil
}

func (r *Registry) GetCertificate(ctx context.Context, domain string) (*types.Certificate, error) {
	return r.store.GetCertificate(ctx, domain)
}

func (r *Registry) ListCertificates(ctx context.Context) ([]*types.Certificate, error) {
	return r.store.ListCertificates(ctx)
}

func (r *Registry) ExpiringCertificatesBefore(ctx context.Context, before time.Time) ([]*types.Certificate, error) {
	return r.store.ExpiringCertificatesBefore(ctx, before)
}

func (r *Registry) DeleteCertificate(ctx context.Context, domain string) error {
	if err := r.store.DeleteCertificate(ctx, domain); err != nil {
		return err
	}
	if err := r.cache.DeleteCertificate(ctx, domain); err != nil {
		r.mirrorFailed(ctx, "delete_certificate", err)
	}
	return nil
}

// --- ACME challenges -------------------------------------------------------

// DefaultACMEChallengeTTL is the spec's default HTTP-01 challenge lifetime.
const DefaultACMEChallengeTTL = 300 * time.Second

// SetACMEChallenge publishes a token -> key-authorization mapping for the
// data plane to serve at /.well-known/acme-challenge/{token}. Ephemeral:
// held only in the hot cache with a TTL, never persisted durably.
func (r *Registry) SetACMEChallenge(ctx context.Context, token, keyAuthorization string) error {
	return r.cache.SetACMEChallenge(ctx, token, keyAuthorization, DefaultACMEChallengeTTL)
}

// GetACMEChallenge returns the key authorization published for token.
func (r *Registry) GetACMEChallenge(ctx context.Context, token string) (string, error) {
	return r.cache.GetACMEChallenge(ctx, token)
}

// DeleteACMEChallenge purges a challenge once it has resolved (valid or
// invalid) or timed out.
func (r *Registry) DeleteACMEChallenge(ctx context.Context, token string) error {
	return r.cache.DeleteACMEChallenge(ctx, token)
}

// --- Middlewares -------------------------------------------------------

func (r *Registry) SetMiddleware(ctx context.Context, m *types.Middleware) error {
	return r.store.UpsertMiddleware(ctx, m)
}

func (r *Registry) GetMiddleware(ctx context.Context, name string) (*types.Middleware, error) {
	return r.store.GetMiddleware(ctx, name)
}

func (r *Registry) ListMiddlewares(ctx context.Context) ([]*types.Middleware, error) {
	return r.store.ListMiddlewares(ctx)
}

func (r *Registry) DeleteMiddleware(ctx context.Context, name string) error {
	return r.store.DeleteMiddleware(ctx, name)
}

// --- Ephemeral runtime mirrors -------------------------------------------------------

// SetContainer records or replaces the in-memory mirror of a runtime
// container. Never persisted durably.
func (r *Registry) SetContainer(c *types.DockerContainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[c.ID] = c
}

// RemoveContainer drops a container's in-memory mirror.
func (r *Registry) RemoveContainer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// GetContainer returns a container's in-memory mirror, if present.
func (r *Registry) GetContainer(id string) (*types.DockerContainer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[id]
	return c, ok
}

// ListContainers returns every mirrored container.
func (r *Registry) ListContainers(ctx context.Context) ([]*types.DockerContainer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.DockerContainer, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	return out, nil
}

// SetNetwork records or replaces the in-memory mirror of a runtime network.
func (r *Registry) SetNetwork(n *types.DockerNetwork) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks[n.ID] = n
}

// RemoveNetwork drops a network's in-memory mirror.
func (r *Registry) RemoveNetwork(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.networks, id)
}

// ListNetworks returns every mirrored network.
func (r *Registry) ListNetworks() []*types.DockerNetwork {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.DockerNetwork, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	return out
}
