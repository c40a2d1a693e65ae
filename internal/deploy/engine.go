package deploy

import (
	"context"
	"fmt"
	"os"
	"sync"

	dockerclient "github.com/docker/docker/client"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/config"
	"github.com/wku/velox-orchestrator/internal/eventbus"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Engine owns the lifecycle of every Application: planning a project's
// manifests into Applications, running the build/deploy/healthcheck/cutover
// state machine per app, and rolling back or tearing one down on request.
//
// Every app-mutating entry point (Deploy, Rollback, StopApp, RemoveApp)
// takes that app's lock before touching its containers, so a webhook-driven
// redeploy can never race a manual rollback of the same app.
type Engine struct {
	client *dockerclient.Client
	reg    *registry.Registry
	bus    *eventbus.Bus
	cfg    *config.Config

	mu           sync.Mutex
	containerIPs map[string]string // app id -> last known primary replica IP

	locksMu  sync.Mutex
	appLocks map[string]*sync.Mutex

	tasksMu sync.Mutex
	cancels map[string]context.CancelFunc // deploy id -> cancel
}

// New wires an Engine against an already-connected Docker client.
func New(client *dockerclient.Client, reg *registry.Registry, bus *eventbus.Bus, cfg *config.Config) *Engine {
	return &Engine{
		client:       client,
		reg:          reg,
		bus:          bus,
		cfg:          cfg,
		containerIPs: make(map[string]string),
		appLocks:     make(map[string]*sync.Mutex),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Start ensures the deploy workspace exists and subscribes to
// webhook_received.
func (e *Engine) Start(ctx context.Context) error {
	if err := os.MkdirAll(e.cfg.DeployPath, 0o755); err != nil {
		return fmt.Errorf("creating deploy path %s: %w", e.cfg.DeployPath, err)
	}
	e.bus.On(eventbus.EventWebhookReceived, e.onWebhookReceived)
	log.Logger.Info().Str("deploy_path", e.cfg.DeployPath).Msg("deploy engine started")
	return nil
}

// Stop cancels every in-flight deploy task. Containers already started
// keep running; only the orchestrating goroutine is asked to give up.
func (e *Engine) Stop() {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
}

// onWebhookReceived reacts to webhook_received{repo_id, commit} by
// redeploying the named repo. Runs the clone-and-deploy in its own
// goroutine so a slow build never blocks the event bus or the webhook
// handler's HTTP response.
func (e *Engine) onWebhookReceived(ctx context.Context, payload any) error {
	fields, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("webhook_received payload has unexpected shape %T", payload)
	}
	repoID, _ := fields["repo_id"].(string)
	if repoID == "" {
		return fmt.Errorf("webhook_received payload missing repo_id")
	}

	repo, err := e.reg.GetGitRepo(ctx, repoID)
	if err != nil {
		return fmt.Errorf("loading git repo %s: %w", repoID, err)
	}

	go func() {
		bg := context.Background()
		if _, err := e.DeployFromRepo(bg, repo); err != nil {
			log.Logger.Error().Err(err).Str("repo_id", repoID).Msg("webhook-triggered deploy failed")
		}
	}()
	return nil
}

func (e *Engine) appLock(appID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.appLocks[appID]
	if !ok {
		l = &sync.Mutex{}
		e.appLocks[appID] = l
	}
	return l
}

// DeployFromRepo clones repo at its configured branch, parses its
// manifests, and deploys every service they describe.
func (e *Engine) DeployFromRepo(ctx context.Context, repo *types.GitRepo) ([]*types.Application, error) {
	parsed, err := CloneAndParseConfig(ctx, e.cfg.DeployPath, repo)
	if err != nil {
		return nil, err
	}
	return e.DeployFromConfig(ctx, parsed, repo)
}

// DeployFromConfig upserts the owning Project, plans Applications from the
// parsed manifests, resolves a dependency-respecting deploy order, and
// deploys each Application in turn.
func (e *Engine) DeployFromConfig(ctx context.Context, parsed *ParsedConfig, repo *types.GitRepo) ([]*types.Application, error) {
	projectID := parsed.DeployConfig.ID
	if projectID == "" {
		return nil, apierr.New(apierr.InvalidInput, "deploy.yaml missing id")
	}

	project := &types.Project{
		ID:          projectID,
		Name:        firstNonEmpty(parsed.DeployConfig.Name, projectID),
		Description: parsed.DeployConfig.Description,
		SourcePath:  parsed.RepoDir,
		Env:         parsed.DeployConfig.Env,
	}
	if err := e.reg.SetProject(ctx, project); err != nil {
		return nil, fmt.Errorf("upserting project %s: %w", projectID, err)
	}

	if repo != nil && repo.ProjectID == "" {
		repo.ProjectID = projectID
		if err := e.reg.SetGitRepo(ctx, repo); err != nil {
			log.Logger.Warn().Err(err).Str("repo_id", repo.ID).Msg("failed to link repo to project")
		}
	}

	apps, err := BuildApplications(projectID, parsed)
	if err != nil {
		return nil, err
	}
	ordered, err := resolveDeployOrder(apps)
	if err != nil {
		return nil, err
	}

	deployed := make([]*types.Application, 0, len(ordered))
	for _, app := range ordered {
		if err := e.reg.SetApplication(ctx, app); err != nil {
			return deployed, fmt.Errorf("upserting application %s: %w", app.ID, err)
		}
		if _, err := e.Deploy(ctx, app); err != nil {
			return deployed, err
		}
		deployed = append(deployed, app)
	}
	return deployed, nil
}

// Deploy allocates the next version for app, records a pending Deployment,
// and runs the build/run/healthcheck/cutover state machine in a
// cancellable goroutine. Returns the pending Deployment immediately; its
// Status is updated in place as the rollout progresses.
func (e *Engine) Deploy(ctx context.Context, app *types.Application) (*types.Deployment, error) {
	lock := e.appLock(app.ID)
	if !lock.TryLock() {
		return nil, apierr.New(apierr.Conflict, "a deploy or rollback is already in progress for "+app.ID)
	}

	version, err := e.reg.LastDeploymentVersion(ctx, app.ID)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("reading last deployment version for %s: %w", app.ID, err)
	}
	version++

	deployment := &types.Deployment{
		ID:      fmt.Sprintf("%s-v%d", app.ID, version),
		AppID:   app.ID,
		Version: version,
		Status:  types.StatusPending,
	}
	if err := e.reg.InsertDeployment(ctx, deployment); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("inserting deployment %s: %w", deployment.ID, err)
	}

	deployCtx, cancel := context.WithCancel(context.Background())
	e.tasksMu.Lock()
	e.cancels[deployment.ID] = cancel
	e.tasksMu.Unlock()

	go func() {
		defer func() {
			e.tasksMu.Lock()
			delete(e.cancels, deployment.ID)
			e.tasksMu.Unlock()
			cancel()
			lock.Unlock()
		}()

		e.runDeploy(deployCtx, app, deployment)
	}()

	return deployment, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
