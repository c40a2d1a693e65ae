package deploy

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	dockerbuild "github.com/docker/docker/api/types/build"
	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	dockernetwork "github.com/docker/docker/api/types/network"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/dockerd"
	"github.com/wku/velox-orchestrator/internal/eventbus"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/metrics"
	"github.com/wku/velox-orchestrator/internal/types"
)

const healthDeadline = 60 * time.Second

// runDeploy drives one Deployment through build, run, healthcheck gate,
// and cutover, or fails it cleanly if any step errors.
func (e *Engine) runDeploy(ctx context.Context, app *types.Application, deployment *types.Deployment) {
	logger := log.WithDeployID(deployment.ID)
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeploymentDuration)

	deployment.Status = types.StatusBuilding
	_ = e.reg.UpdateDeployment(ctx, deployment)

	image, err := e.buildOrPull(ctx, app, deployment.Version)
	if err != nil {
		e.failDeploy(ctx, app, deployment, nil, fmt.Errorf("build/pull failed: %w", err))
		return
	}
	deployment.Image = image

	deployment.Status = types.StatusDeploying
	_ = e.reg.UpdateDeployment(ctx, deployment)

	env, err := e.resolveEnvRefs(ctx, app)
	if err != nil {
		e.failDeploy(ctx, app, deployment, nil, fmt.Errorf("resolving env: %w", err))
		return
	}

	newContainerIDs, err := e.runContainers(ctx, app, deployment, image, env)
	if err != nil {
		e.failDeploy(ctx, app, deployment, newContainerIDs, fmt.Errorf("starting containers: %w", err))
		return
	}

	if err := e.waitForHealthy(ctx, app, newContainerIDs); err != nil {
		e.failDeploy(ctx, app, deployment, newContainerIDs, fmt.Errorf("healthcheck: %w", err))
		return
	}

	oldContainerIDs := app.ContainerIDs
	app.ContainerIDs = newContainerIDs
	app.Image = image
	app.Status = types.StatusRunning
	if err := e.reg.SetApplication(ctx, app); err != nil {
		logger.Error().Err(err).Msg("failed to persist application cutover")
	}

	if app.Domain != "" {
		if err := e.createRoute(ctx, app); err != nil {
			logger.Error().Err(err).Msg("failed to create route after successful deploy")
		}
	}

	now := time.Now()
	deployment.Status = types.StatusRunning
	deployment.ContainerIDs = newContainerIDs
	deployment.FinishedAt = &now
	if err := e.reg.UpdateDeployment(ctx, deployment); err != nil {
		logger.Error().Err(err).Msg("failed to persist deployment completion")
	}

	e.bus.Emit(ctx, eventbus.EventDeployCompleted, map[string]any{
		"app_id":    app.ID,
		"deploy_id": deployment.ID,
		"version":   deployment.Version,
	})

	if len(oldContainerIDs) > 0 {
		e.retireContainers(context.Background(), oldContainerIDs, 5*time.Second)
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.StatusRunning)).Inc()
	logger.Info().Str("app_id", app.ID).Int("version", deployment.Version).Msg("deploy completed")
}

// failDeploy captures the last lines of any new containers' logs, marks
// the deployment and application failed, and retires the partially
// started containers. The previous Application.ContainerIDs and any
// existing Route are left untouched.
func (e *Engine) failDeploy(ctx context.Context, app *types.Application, deployment *types.Deployment, newContainerIDs []string, cause error) {
	logs := e.captureFailureLogs(context.Background(), newContainerIDs)

	now := time.Now()
	deployment.Status = types.StatusFailed
	deployment.Logs = cause.Error() + "\n" + logs
	deployment.FinishedAt = &now
	if err := e.reg.UpdateDeployment(ctx, deployment); err != nil {
		log.Logger.Error().Err(err).Msg("failed to persist deployment failure")
	}

	app.Status = types.StatusFailed
	if err := e.reg.SetApplication(ctx, app); err != nil {
		log.Logger.Error().Err(err).Msg("failed to persist application failure status")
	}

	if len(newContainerIDs) > 0 {
		e.retireContainers(context.Background(), newContainerIDs, 5*time.Second)
	}

	metrics.DeploymentsTotal.WithLabelValues(string(types.StatusFailed)).Inc()
	log.WithDeployID(deployment.ID).Error().Err(cause).Str("app_id", app.ID).Msg("deploy failed")
}

func (e *Engine) captureFailureLogs(ctx context.Context, containerIDs []string) string {
	var sb strings.Builder
	for _, id := range containerIDs {
		rc, err := e.client.ContainerLogs(ctx, id, dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "50"})
		if err != nil {
			continue
		}
		raw, _ := io.ReadAll(rc)
		rc.Close()
		sb.WriteString(dockerd.ShortID(id))
		sb.WriteString(":\n")
		sb.WriteString(dockerd.StripDockerLogHeaders(raw))
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildOrPull resolves app's deployable image: a git build, or a pull of
// a named image (falling back to a local inspect if the registry is
// unreachable and the image already exists locally).
func (e *Engine) buildOrPull(ctx context.Context, app *types.Application, version int) (string, error) {
	if app.Source == types.SourceGit {
		return e.buildFromGit(ctx, app, version)
	}
	return e.pullImage(ctx, app.Image)
}

func (e *Engine) pullImage(ctx context.Context, imageRef string) (string, error) {
	rc, err := e.client.ImagePull(ctx, imageRef, dockerimage.PullOptions{})
	if err != nil {
		if _, _, inspectErr := e.client.ImageInspectWithRaw(ctx, imageRef); inspectErr == nil {
			log.Logger.Warn().Str("image", imageRef).Err(err).Msg("pull failed, using local image")
			return imageRef, nil
		}
		return "", apierr.Wrap(apierr.PullFailed, "pulling "+imageRef, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return imageRef, nil
}

func (e *Engine) buildFromGit(ctx context.Context, app *types.Application, version int) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ImageBuildDuration)

	repoDir, err := e.ensureGitClone(ctx, app)
	if err != nil {
		return "", err
	}

	buildCtx, err := createBuildTar(filepath.Join(repoDir, app.BuildContext))
	if err != nil {
		return "", apierr.Wrap(apierr.BuildFailed, "creating build context", err)
	}

	tag := fmt.Sprintf("velox/%s:v%d", app.ID, version)
	resp, err := e.client.ImageBuild(ctx, buildCtx, dockerbuild.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: app.Dockerfile,
		Remove:     true,
	})
	if err != nil {
		return "", apierr.Wrap(apierr.BuildFailed, "docker build", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if bytes.Contains(out, []byte(`"error"`)) {
		return "", apierr.New(apierr.BuildFailed, dockerd.StripDockerLogHeaders(out))
	}
	return tag, nil
}

// ensureGitClone returns a local directory holding app's source: SourceURL
// itself if it already names a directory on disk, otherwise a fresh shallow
// clone of SourceURL at SourceBranch into {deploy_path}/{app.id}.
func (e *Engine) ensureGitClone(ctx context.Context, app *types.Application) (string, error) {
	if info, err := os.Stat(app.SourceURL); err == nil && info.IsDir() {
		return app.SourceURL, nil
	}

	repoDir := filepath.Join(e.cfg.DeployPath, app.ID)
	if err := os.RemoveAll(repoDir); err != nil {
		return "", apierr.Wrap(apierr.BuildFailed, "clearing clone directory "+repoDir, err)
	}
	branch := app.SourceBranch
	if branch == "" {
		branch = "main"
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", branch, app.SourceURL, repoDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", apierr.Wrap(apierr.BuildFailed, "git clone failed: "+string(out), err)
	}
	log.Logger.Info().Str("app_id", app.ID).Str("repo", app.SourceURL).Str("branch", branch).Msg("git cloned")
	return repoDir, nil
}

// excludedBuildDirs are never included in a build context tar.
var excludedBuildDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

// createBuildTar tars and gzips dir into a Docker build context.
func createBuildTar(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && excludedBuildDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// runContainers creates and starts app.Replicas containers at the given
// image/env, attaches them to the app's declared networks (the proxy
// network alone when none are declared), and records the last started
// replica's IP in e.containerIPs.
func (e *Engine) runContainers(ctx context.Context, app *types.Application, deployment *types.Deployment, image string, env []string) ([]string, error) {
	replicas := app.Replicas
	if replicas < 1 {
		replicas = 1
	}

	labels := map[string]string{
		e.cfg.LabelPrefix + "enable":     "true",
		e.cfg.LabelPrefix + "app_id":     app.ID,
		e.cfg.LabelPrefix + "project_id": app.ProjectID,
		e.cfg.LabelPrefix + "deploy_id":  deployment.ID,
	}
	if app.Domain != "" {
		labels[e.cfg.LabelPrefix+"http.routers.default.host"] = app.Domain
		labels[e.cfg.LabelPrefix+"http.routers.default.port"] = fmt.Sprintf("%d", app.Port)
	}

	networks := app.Networks
	if len(networks) == 0 {
		networks = []string{e.cfg.ProxyNetwork}
	}

	containerIDs := make([]string, 0, replicas)
	for i := 0; i < replicas; i++ {
		name := fmt.Sprintf("%s-v%d", app.ID, deployment.Version)
		if replicas > 1 {
			name = fmt.Sprintf("%s-%d", name, i)
		}

		created, err := e.client.ContainerCreate(ctx,
			&dockercontainer.Config{Image: image, Env: env, Labels: labels},
			&dockercontainer.HostConfig{},
			&dockernetwork.NetworkingConfig{},
			nil,
			name,
		)
		if err != nil {
			return containerIDs, fmt.Errorf("creating container %s: %w", name, err)
		}

		for _, net := range networks {
			if err := e.client.NetworkConnect(ctx, net, created.ID, &dockernetwork.EndpointSettings{
				Aliases: []string{app.ID},
			}); err != nil {
				return append(containerIDs, created.ID), fmt.Errorf("connecting %s to %s: %w", name, net, err)
			}
		}

		startTimer := metrics.NewTimer()
		if err := e.client.ContainerStart(ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
			return append(containerIDs, created.ID), fmt.Errorf("starting %s: %w", name, err)
		}
		startTimer.ObserveDuration(metrics.ContainerStartDuration)
		containerIDs = append(containerIDs, created.ID)

		if ip, err := e.inspectIP(ctx, created.ID, networks); err == nil {
			e.mu.Lock()
			e.containerIPs[app.ID] = ip
			e.mu.Unlock()
		}
	}
	return containerIDs, nil
}

func (e *Engine) inspectIP(ctx context.Context, containerID string, preferredNetworks []string) (string, error) {
	info, err := e.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if net, ok := info.NetworkSettings.Networks[e.cfg.ProxyNetwork]; ok && net.IPAddress != "" {
		return net.IPAddress, nil
	}
	for _, name := range preferredNetworks {
		if net, ok := info.NetworkSettings.Networks[name]; ok && net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	for _, net := range info.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", fmt.Errorf("container %s has no assigned ip", dockerd.ShortID(containerID))
}

// mergeEnv layers app-level env over project-level env, app values
// winning on conflict.
func mergeEnv(projectEnv, appEnv map[string]string) map[string]string {
	merged := make(map[string]string, len(projectEnv)+len(appEnv))
	for k, v := range projectEnv {
		merged[k] = v
	}
	for k, v := range appEnv {
		merged[k] = v
	}
	return merged
}

// envSlice returns env as a sorted KEY=VALUE slice, for deterministic
// container configs (and deterministic tests).
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var envRefPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_.-]+)\}`)
var depRefPattern = regexp.MustCompile(`@\{([a-zA-Z0-9_.-]+)\}`)

// resolveEnvRefs expands "${name}" secret references and "@{dep_id}"
// dependency address references in app's env, then returns the merged,
// sorted KEY=VALUE slice docker expects.
func (e *Engine) resolveEnvRefs(ctx context.Context, app *types.Application) ([]string, error) {
	project, err := e.reg.GetProject(ctx, app.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", app.ProjectID, err)
	}
	merged := mergeEnv(project.Env, app.Env)

	resolved := make(map[string]string, len(merged))
	for k, v := range merged {
		rv, err := e.resolveValue(ctx, app.ProjectID, v)
		if err != nil {
			return nil, err
		}
		resolved[k] = rv
	}
	return envSlice(resolved), nil
}

func (e *Engine) resolveValue(ctx context.Context, projectID, value string) (string, error) {
	var resolveErr error
	out := envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		secret, err := e.reg.GetSecret(ctx, types.SecretID(projectID, name))
		if err != nil {
			resolveErr = apierr.Wrap(apierr.InvalidInput, "unresolved secret reference "+name, err)
			return match
		}
		return secret.Value
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	out = depRefPattern.ReplaceAllStringFunc(out, func(match string) string {
		depID := depRefPattern.FindStringSubmatch(match)[1]
		e.mu.Lock()
		ip := e.containerIPs[depID]
		e.mu.Unlock()
		if ip == "" {
			resolveErr = apierr.New(apierr.InvalidDependency, "dependency "+depID+" has no known address")
			return match
		}
		return ip
	})
	return out, resolveErr
}

// buildDomain computes an Application's externally visible hostname.
func buildDomain(app *types.Application, rootDomain string) string {
	if app.Domain == "" {
		return fmt.Sprintf("%s-%s.%s", app.ID, app.ProjectID, rootDomain)
	}
	if !strings.Contains(app.Domain, ".") {
		return app.Domain + "." + rootDomain
	}
	return app.Domain
}

// waitForHealthy blocks until every container is healthy, the healthcheck
// deadline elapses, or ctx is cancelled. Apps without a declared
// healthcheck are given a short settle window instead of being probed.
func (e *Engine) waitForHealthy(ctx context.Context, app *types.Application, containerIDs []string) error {
	if app.HealthCheck == nil {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	interval := time.Duration(app.HealthCheck.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(healthDeadline)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.allHealthy(ctx, app.HealthCheck, containerIDs) {
			return nil
		}
		time.Sleep(interval)
	}
	return apierr.New(apierr.HealthcheckFailed, fmt.Sprintf("app %s did not become healthy within %s", app.ID, healthDeadline))
}

func (e *Engine) allHealthy(ctx context.Context, hc *types.HealthCheck, containerIDs []string) bool {
	var wg sync.WaitGroup
	results := make([]bool, len(containerIDs))
	for i, id := range containerIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = e.runHealthcheck(ctx, hc, id)
		}(i, id)
	}
	wg.Wait()
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

func (e *Engine) runHealthcheck(ctx context.Context, hc *types.HealthCheck, containerID string) bool {
	cmd := hc.Test.Command
	if len(cmd) > 0 && cmd[0] == "CMD" {
		cmd = cmd[1:]
	}
	if len(cmd) == 0 && hc.Test.Shell != "" {
		cmd = []string{"sh", "-c", hc.Test.Shell}
	}
	if len(cmd) == 0 {
		return true
	}

	created, err := e.client.ContainerExecCreate(ctx, containerID, dockercontainer.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return false
	}
	attach, err := e.client.ContainerExecAttach(ctx, created.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return false
	}
	defer attach.Close()
	_, _ = io.Copy(io.Discard, attach.Reader)

	for i := 0; i < 10; i++ {
		inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return false
		}
		if !inspect.Running {
			return inspect.ExitCode == 0
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

// createRoute publishes a Route for app's current replicas under its
// computed domain.
func (e *Engine) createRoute(ctx context.Context, app *types.Application) error {
	upstreams := make([]types.Upstream, 0, len(app.ContainerIDs))
	for _, id := range app.ContainerIDs {
		ip, err := e.inspectIP(ctx, id, app.Networks)
		if err != nil {
			continue
		}
		upstreams = append(upstreams, types.Upstream{Address: ip, Port: app.Port, Weight: 1, Healthy: true, ContainerID: dockerd.ShortID(id)})
	}
	if len(upstreams) == 0 {
		return fmt.Errorf("no reachable upstreams for app %s", app.ID)
	}

	route := &types.Route{
		ID:           "app-" + app.ID,
		Host:         buildDomain(app, e.cfg.RootDomain),
		Path:         "/",
		Protocol:     types.ProtocolHTTP,
		Upstreams:    upstreams,
		LoadBalancer: types.LoadBalancerRoundRobin,
		PreserveHost: true,
		Enabled:      true,
	}
	return e.reg.SetRoute(ctx, route)
}

// haltContainers stops containers without removing them, used by StopApp.
func (e *Engine) haltContainers(ctx context.Context, containerIDs []string, grace time.Duration) {
	seconds := int(grace.Seconds())
	for _, id := range containerIDs {
		timer := metrics.NewTimer()
		if err := e.client.ContainerStop(ctx, id, dockercontainer.StopOptions{Timeout: &seconds}); err != nil {
			log.Logger.Warn().Err(err).Str("container_id", dockerd.ShortID(id)).Msg("failed to stop container")
			continue
		}
		timer.ObserveDuration(metrics.ContainerStopDuration)
	}
}

// retireContainers stops and removes containers, used everywhere an old
// replica set is being replaced or torn down for good.
func (e *Engine) retireContainers(ctx context.Context, containerIDs []string, grace time.Duration) {
	seconds := int(grace.Seconds())
	for _, id := range containerIDs {
		if err := e.client.ContainerStop(ctx, id, dockercontainer.StopOptions{Timeout: &seconds}); err != nil {
			log.Logger.Warn().Err(err).Str("container_id", dockerd.ShortID(id)).Msg("failed to stop container during retire")
		}
		if err := e.client.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			log.Logger.Warn().Err(err).Str("container_id", dockerd.ShortID(id)).Msg("failed to remove container during retire")
		}
	}
}
