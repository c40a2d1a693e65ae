package deploy

import (
	"testing"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/types"
)

func TestResolveDeployOrderRespectsDependsOn(t *testing.T) {
	apps := []*types.Application{
		{ID: "p-web", DependsOn: []string{"p-api"}},
		{ID: "p-api", DependsOn: []string{"p-db"}},
		{ID: "p-db"},
	}
	ordered, err := resolveDeployOrder(apps)
	if err != nil {
		t.Fatalf("resolveDeployOrder: %v", err)
	}
	position := make(map[string]int, len(ordered))
	for i, a := range ordered {
		position[a.ID] = i
	}
	if position["p-db"] > position["p-api"] {
		t.Errorf("expected p-db before p-api, got order %v", position)
	}
	if position["p-api"] > position["p-web"] {
		t.Errorf("expected p-api before p-web, got order %v", position)
	}
}

func TestResolveDeployOrderDetectsCycle(t *testing.T) {
	apps := []*types.Application{
		{ID: "p-a", DependsOn: []string{"p-b"}},
		{ID: "p-b", DependsOn: []string{"p-a"}},
	}
	_, err := resolveDeployOrder(apps)
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	if kind, ok := apierr.KindOf(err); !ok || kind != apierr.InvalidDependency {
		t.Errorf("expected InvalidDependency, got %v", err)
	}
}

func TestResolveDeployOrderIgnoresExternalDependency(t *testing.T) {
	apps := []*types.Application{
		{ID: "p-web", DependsOn: []string{"already-deployed-elsewhere"}},
	}
	ordered, err := resolveDeployOrder(apps)
	if err != nil {
		t.Fatalf("resolveDeployOrder: %v", err)
	}
	if len(ordered) != 1 || ordered[0].ID != "p-web" {
		t.Fatalf("expected [p-web], got %v", ordered)
	}
}

func TestBuildApplicationsMergesComposeAndDeployMeta(t *testing.T) {
	parsed := &ParsedConfig{
		RepoDir: "/tmp/repo-1",
		DeployConfig: deployFile{
			ID: "proj1",
			Services: map[string]deployServiceMeta{
				"web": {Domain: "example.com", Port: 3000, Replicas: 2},
			},
		},
		ComposeConfig: composeFile{
			Services: map[string]composeService{
				"web": {
					Image:       "myorg/web:latest",
					Environment: map[string]any{"FOO": "bar"},
					DependsOn:   []string{"db"},
				},
				"db": {Image: "postgres:16"},
			},
		},
	}

	apps, err := BuildApplications("proj1", parsed)
	if err != nil {
		t.Fatalf("BuildApplications: %v", err)
	}
	byName := make(map[string]*types.Application, len(apps))
	for _, a := range apps {
		byName[a.Name] = a
	}

	web, ok := byName["web"]
	if !ok {
		t.Fatal("expected a web application")
	}
	if web.ID != "proj1-web" {
		t.Errorf("expected id proj1-web, got %s", web.ID)
	}
	if web.Domain != "example.com" || web.Port != 3000 || web.Replicas != 2 {
		t.Errorf("deploy.yaml metadata not applied: %+v", web)
	}
	if web.Env["FOO"] != "bar" {
		t.Errorf("expected env FOO=bar, got %v", web.Env)
	}
	if len(web.DependsOn) != 1 || web.DependsOn[0] != "proj1-db" {
		t.Errorf("expected depends_on rewritten to proj1-db, got %v", web.DependsOn)
	}

	db, ok := byName["db"]
	if !ok {
		t.Fatal("expected a db application")
	}
	if db.Port != 80 || db.Replicas != 1 {
		t.Errorf("expected defaults applied, got %+v", db)
	}
}

func TestNormalizeEnvAcceptsListForm(t *testing.T) {
	env := normalizeEnv([]any{"A=1", "B=2", "not-a-kv"})
	if env["A"] != "1" || env["B"] != "2" {
		t.Errorf("expected A=1 B=2, got %v", env)
	}
	if len(env) != 2 {
		t.Errorf("expected malformed entries dropped, got %v", env)
	}
}

func TestParseComposeHealthcheckShellForm(t *testing.T) {
	hc := parseComposeHealthcheck(&composeHealthcheck{Test: "curl -f http://localhost/ || exit 1"})
	if hc.Test.Shell == "" {
		t.Fatal("expected shell form to populate Test.Shell")
	}
}

func TestParseComposeHealthcheckCmdShellForm(t *testing.T) {
	hc := parseComposeHealthcheck(&composeHealthcheck{
		Test: []any{"CMD-SHELL", "curl -f http://localhost/"},
	})
	if hc.Test.Shell != "curl -f http://localhost/" {
		t.Errorf("expected CMD-SHELL to populate Shell, got %+v", hc.Test)
	}
}

func TestParseComposeHealthcheckCmdForm(t *testing.T) {
	hc := parseComposeHealthcheck(&composeHealthcheck{
		Test: []any{"CMD", "curl", "-f", "http://localhost/"},
	})
	if len(hc.Test.Command) != 4 {
		t.Errorf("expected CMD argv preserved, got %+v", hc.Test)
	}
}
