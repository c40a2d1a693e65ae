package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/metrics"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Rollback redeploys app at a previously recorded image for targetVersion,
// skipping the healthcheck gate (the image already ran successfully once).
// Serialized per app so it can never race a concurrent Deploy of the same
// app.
func (e *Engine) Rollback(ctx context.Context, app *types.Application, targetVersion int) (*types.Deployment, error) {
	lock := e.appLock(app.ID)
	if !lock.TryLock() {
		return nil, apierr.New(apierr.Conflict, "a deploy or rollback is already in progress for "+app.ID)
	}
	defer lock.Unlock()

	history, err := e.reg.DeploymentsOfApp(ctx, app.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading deployment history for %s: %w", app.ID, err)
	}
	var target *types.Deployment
	for _, d := range history {
		if d.Version == targetVersion {
			target = d
			break
		}
	}
	if target == nil || target.Image == "" {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("no deployed image recorded for %s at version %d", app.ID, targetVersion))
	}

	version, err := e.reg.LastDeploymentVersion(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("reading last deployment version for %s: %w", app.ID, err)
	}
	version++

	deployment := &types.Deployment{
		ID:      fmt.Sprintf("%s-v%d", app.ID, version),
		AppID:   app.ID,
		Version: version,
		Status:  types.StatusDeploying,
		Image:   target.Image,
	}
	if err := e.reg.InsertDeployment(ctx, deployment); err != nil {
		return nil, fmt.Errorf("inserting rollback deployment %s: %w", deployment.ID, err)
	}

	env, err := e.resolveEnvRefs(ctx, app)
	if err != nil {
		return nil, err
	}

	newContainerIDs, err := e.runContainers(ctx, app, deployment, target.Image, env)
	if err != nil {
		e.failDeploy(ctx, app, deployment, newContainerIDs, fmt.Errorf("rollback start failed: %w", err))
		return deployment, err
	}

	oldContainerIDs := app.ContainerIDs
	app.ContainerIDs = newContainerIDs
	app.Image = target.Image
	app.Status = types.StatusRunning
	if err := e.reg.SetApplication(ctx, app); err != nil {
		log.Logger.Error().Err(err).Msg("failed to persist application after rollback")
	}

	if app.Domain != "" {
		if err := e.createRoute(ctx, app); err != nil {
			log.Logger.Error().Err(err).Msg("failed to update route after rollback")
		}
	}

	now := time.Now()
	deployment.Status = types.StatusRunning
	deployment.ContainerIDs = newContainerIDs
	deployment.FinishedAt = &now
	if err := e.reg.UpdateDeployment(ctx, deployment); err != nil {
		log.Logger.Error().Err(err).Msg("failed to persist rollback completion")
	}

	if len(oldContainerIDs) > 0 {
		e.retireContainers(context.Background(), oldContainerIDs, 5*time.Second)
	}

	metrics.RolledBackDeploymentsTotal.WithLabelValues("manual").Inc()
	log.Logger.Info().Str("app_id", app.ID).Int("version", version).Int("target_version", targetVersion).Msg("rollback completed")
	return deployment, nil
}

// StopApp stops app's running containers with a 10s grace period without
// removing them, and marks it stopped.
func (e *Engine) StopApp(ctx context.Context, app *types.Application) error {
	lock := e.appLock(app.ID)
	if !lock.TryLock() {
		return apierr.New(apierr.Conflict, "a deploy or rollback is already in progress for "+app.ID)
	}
	defer lock.Unlock()

	e.haltContainers(ctx, app.ContainerIDs, 10*time.Second)
	app.Status = types.StatusStopped
	return e.reg.SetApplication(ctx, app)
}

// RemoveApp stops and removes app's containers, deletes its route if any,
// and drops its cached dependency address.
func (e *Engine) RemoveApp(ctx context.Context, app *types.Application) error {
	lock := e.appLock(app.ID)
	if !lock.TryLock() {
		return apierr.New(apierr.Conflict, "a deploy or rollback is already in progress for "+app.ID)
	}
	defer lock.Unlock()

	e.retireContainers(ctx, app.ContainerIDs, 5*time.Second)

	if app.Domain != "" {
		route, err := e.reg.GetRoute(ctx, "app-"+app.ID)
		if err == nil && route != nil {
			if err := e.reg.DeleteRoute(ctx, route); err != nil {
				log.Logger.Warn().Err(err).Str("route_id", route.ID).Msg("failed to delete route during app removal")
			}
		}
	}

	e.mu.Lock()
	delete(e.containerIPs, app.ID)
	e.mu.Unlock()

	return e.reg.DeleteApplication(ctx, app.ID)
}
