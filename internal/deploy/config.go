package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/types"
)

// composeFile is the subset of docker-compose.yml the planner cares about.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image       string              `yaml:"image"`
	Build       any                 `yaml:"build"` // string "context" or {context, dockerfile}
	Environment any                 `yaml:"environment"` // map[string]string or ["K=V", ...]
	Volumes     []string            `yaml:"volumes"`
	Networks    []string            `yaml:"networks"`
	DependsOn   []string            `yaml:"depends_on"`
	Ports       []string            `yaml:"ports"`
	Healthcheck *composeHealthcheck `yaml:"healthcheck"`
}

type composeHealthcheck struct {
	Test     any    `yaml:"test"`
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"`
}

// deployFile is deploy.yaml: per-service metadata docker-compose has no
// room for (domain, replica count, the project's own identity).
type deployFile struct {
	ID          string                       `yaml:"id"`
	Name        string                       `yaml:"name"`
	Description string                       `yaml:"description"`
	Env         map[string]string            `yaml:"env"`
	Services    map[string]deployServiceMeta `yaml:"services"`
}

type deployServiceMeta struct {
	Domain   string `yaml:"domain"`
	Port     int    `yaml:"port"`
	Replicas int    `yaml:"replicas"`
}

// ParsedConfig is what a manifest source (a cloned repo or a local path)
// resolves to: the two manifests plus the directory they were read from.
type ParsedConfig struct {
	RepoDir      string
	DeployConfig deployFile
	ComposeConfig composeFile
}

// CloneAndParseConfig shallow-clones repo at its configured branch into
// {deployPath}/repo-{repo.id} and reads its deploy and compose manifests.
func CloneAndParseConfig(ctx context.Context, deployPath string, repo *types.GitRepo) (*ParsedConfig, error) {
	repoDir := filepath.Join(deployPath, "repo-"+repo.ID)
	if err := os.RemoveAll(repoDir); err != nil {
		return nil, fmt.Errorf("clearing clone directory %s: %w", repoDir, err)
	}
	branch := repo.Branch
	if branch == "" {
		branch = "main"
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", branch, repo.URL, repoDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, apierr.Wrap(apierr.BuildFailed, "git clone failed: "+string(out), err)
	}
	log.Logger.Info().Str("repo", repo.URL).Str("branch", branch).Msg("git cloned")

	return ParseConfigDir(repoDir, repo.ConfigFile)
}

// ParseConfigDir reads deploy.yaml (or configFile, if set) and
// docker-compose.yml from dir. Used for cloned repos and for the
// "deploy/local" manifest-path API entry point alike.
func ParseConfigDir(dir, configFile string) (*ParsedConfig, error) {
	if configFile == "" {
		configFile = "deploy.yaml"
	}
	deployPath := filepath.Join(dir, configFile)
	deployBytes, err := os.ReadFile(deployPath)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "missing "+configFile, err)
	}
	var deployCfg deployFile
	if err := yaml.Unmarshal(deployBytes, &deployCfg); err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "invalid "+configFile, err)
	}

	composePath := filepath.Join(dir, "docker-compose.yml")
	composeBytes, err := os.ReadFile(composePath)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "missing docker-compose.yml", err)
	}
	var composeCfg composeFile
	if err := yaml.Unmarshal(composeBytes, &composeCfg); err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "invalid docker-compose.yml", err)
	}

	return &ParsedConfig{RepoDir: dir, DeployConfig: deployCfg, ComposeConfig: composeCfg}, nil
}

// ParseConfigStrings parses deploy.yaml and docker-compose.yml content
// submitted inline over the API, with no backing directory (RepoDir is
// left empty; build contexts referencing relative paths will fail, which
// is expected for this entry point).
func ParseConfigStrings(deployContent, composeContent string) (*ParsedConfig, error) {
	var deployCfg deployFile
	if err := yaml.Unmarshal([]byte(deployContent), &deployCfg); err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "invalid deploy_content", err)
	}
	var composeCfg composeFile
	if err := yaml.Unmarshal([]byte(composeContent), &composeCfg); err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "invalid compose_content", err)
	}
	return &ParsedConfig{DeployConfig: deployCfg, ComposeConfig: composeCfg}, nil
}

// BuildApplications runs the plan phase: one Application per compose
// service, compose providing image/build/env/networking, deploy.yaml
// providing domain/port/replicas. depends_on is rewritten to fully
// qualified "{project_id}-{service}" ids.
func BuildApplications(projectID string, parsed *ParsedConfig) ([]*types.Application, error) {
	apps := make([]*types.Application, 0, len(parsed.ComposeConfig.Services))
	for name, svc := range parsed.ComposeConfig.Services {
		meta := parsed.DeployConfig.Services[name]

		source := types.SourceImage
		sourceURL := ""
		dockerfile := "Dockerfile"
		buildContext := "."
		if svc.Build != nil {
			source = types.SourceGit
			sourceURL = parsed.RepoDir
			switch b := svc.Build.(type) {
			case string:
				buildContext = b
			case map[string]any:
				if v, ok := b["context"].(string); ok && v != "" {
					buildContext = v
				}
				if v, ok := b["dockerfile"].(string); ok && v != "" {
					dockerfile = v
				}
			}
		}

		dependsOn := make([]string, 0, len(svc.DependsOn))
		for _, dep := range svc.DependsOn {
			dependsOn = append(dependsOn, projectID+"-"+dep)
		}

		app := &types.Application{
			ID:           projectID + "-" + name,
			ProjectID:    projectID,
			Name:         name,
			Source:       source,
			SourceURL:    sourceURL,
			Dockerfile:   dockerfile,
			BuildContext: buildContext,
			Image:        svc.Image,
			Domain:       meta.Domain,
			Port:         defaultInt(meta.Port, 80),
			Env:          normalizeEnv(svc.Environment),
			Volumes:      svc.Volumes,
			Networks:     svc.Networks,
			Replicas:     defaultInt(meta.Replicas, 1),
			DependsOn:    dependsOn,
			HealthCheck:  parseComposeHealthcheck(svc.Healthcheck),
			Status:       types.StatusPending,
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// resolveDeployOrder topologically sorts apps by DependsOn using a
// three-color DFS, so every dependency starts before its dependents.
// Unlike a plain visited-set walk, this actually detects cycles.
func resolveDeployOrder(apps []*types.Application) ([]*types.Application, error) {
	byID := make(map[string]*types.Application, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(apps))
	ordered := make([]*types.Application, 0, len(apps))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return apierr.New(apierr.InvalidDependency, "dependency cycle: "+strings.Join(append(path, id), " -> "))
		}
		app, ok := byID[id]
		if !ok {
			return nil // dependency outside this batch; assumed already deployed
		}
		color[id] = gray
		for _, dep := range app.DependsOn {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		color[id] = black
		ordered = append(ordered, app)
		return nil
	}

	for _, a := range apps {
		if err := visit(a.ID, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// normalizeEnv accepts docker-compose's two environment shapes (a map, or
// a ["KEY=VALUE", ...] list) and returns a flat map.
func normalizeEnv(raw any) map[string]string {
	env := make(map[string]string)
	switch v := raw.(type) {
	case map[string]any:
		for k, val := range v {
			env[k] = fmt.Sprintf("%v", val)
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if k, val, found := strings.Cut(s, "="); found {
				env[k] = val
			}
		}
	}
	return env
}

// parseComposeHealthcheck converts docker-compose's healthcheck shape
// (test as a string or a ["CMD"|"CMD-SHELL", ...] list) into the domain
// HealthCheckTest representation.
func parseComposeHealthcheck(hc *composeHealthcheck) *types.HealthCheck {
	if hc == nil {
		return nil
	}
	var test types.HealthCheckTest
	switch t := hc.Test.(type) {
	case string:
		test.Shell = t
	case []any:
		cmd := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				cmd = append(cmd, s)
			}
		}
		if len(cmd) > 0 && cmd[0] == "CMD-SHELL" {
			test.Shell = strings.Join(cmd[1:], " ")
		} else {
			test.Command = cmd
		}
	}
	return &types.HealthCheck{
		Type:     types.HealthCheckHTTP,
		Test:     test,
		Interval: parseDurationSeconds(hc.Interval, 5),
		Timeout:  parseDurationSeconds(hc.Timeout, 5),
	}
}

func parseDurationSeconds(s string, fallback int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	s = strings.TrimSuffix(s, "s")
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
