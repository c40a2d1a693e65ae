package deploy

import (
	"testing"

	"github.com/wku/velox-orchestrator/internal/types"
)

func TestMergeEnvAppWins(t *testing.T) {
	project := map[string]string{"A": "project", "B": "project"}
	app := map[string]string{"B": "app"}
	merged := mergeEnv(project, app)
	if merged["A"] != "project" || merged["B"] != "app" {
		t.Errorf("expected app values to win on conflict, got %v", merged)
	}
}

func TestEnvSliceSortedAndFormatted(t *testing.T) {
	got := envSlice(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected sorted KEY=VALUE pairs %v, got %v", want, got)
	}
}

func TestBuildDomainDefaultsToAppProjectRoot(t *testing.T) {
	app := &types.Application{ID: "p-web", ProjectID: "p"}
	got := buildDomain(app, "10.0.0.1.nip.io")
	want := "p-web-p.10.0.0.1.nip.io"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestBuildDomainBareNameGetsRootSuffix(t *testing.T) {
	app := &types.Application{ID: "p-web", ProjectID: "p", Domain: "myapp"}
	got := buildDomain(app, "10.0.0.1.nip.io")
	want := "myapp.10.0.0.1.nip.io"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestBuildDomainFullyQualifiedLeftUnchanged(t *testing.T) {
	app := &types.Application{ID: "p-web", ProjectID: "p", Domain: "app.example.com"}
	got := buildDomain(app, "10.0.0.1.nip.io")
	if got != "app.example.com" {
		t.Errorf("expected domain left unchanged, got %s", got)
	}
}

func TestResolveValueSubstitutesDependencyAddress(t *testing.T) {
	e := &Engine{containerIPs: map[string]string{"p-db": "172.18.0.5"}}
	got, err := e.resolveValue(nil, "p", "postgres://@{p-db}:5432/app")
	if err != nil {
		t.Fatalf("resolveValue: %v", err)
	}
	if got != "postgres://172.18.0.5:5432/app" {
		t.Errorf("expected dependency address substituted, got %s", got)
	}
}

func TestResolveValueUnknownDependencyErrors(t *testing.T) {
	e := &Engine{containerIPs: map[string]string{}}
	_, err := e.resolveValue(nil, "p", "@{unknown}")
	if err == nil {
		t.Fatal("expected an error for an unresolved dependency reference")
	}
}

func TestResolveValuePlainStringUnchanged(t *testing.T) {
	e := &Engine{containerIPs: map[string]string{}}
	got, err := e.resolveValue(nil, "p", "production")
	if err != nil {
		t.Fatalf("resolveValue: %v", err)
	}
	if got != "production" {
		t.Errorf("expected unchanged string, got %s", got)
	}
}
