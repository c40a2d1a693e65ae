package registry

import (
	"context"
	"testing"
	"time"

	"github.com/wku/velox-orchestrator/internal/types"
)

// Ephemeral mirrors never touch the store or cache, so they can be
// exercised against a zero-value Registry.
func newTestRegistry() *Registry {
	return New(nil, nil, nil)
}

func TestContainerMirrorLifecycle(t *testing.T) {
	r := newTestRegistry()
	c := &types.DockerContainer{ID: "abc123", Name: "web-1", State: "running", CreatedAt: time.Now()}

	r.SetContainer(c)
	got, ok := r.GetContainer("abc123")
	if !ok || got.Name != "web-1" {
		t.Fatalf("expected container to be mirrored, got %+v ok=%v", got, ok)
	}

	list, err := r.ListContainers(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 mirrored container, got %d err=%v", len(list), err)
	}

	r.RemoveContainer("abc123")
	if _, ok := r.GetContainer("abc123"); ok {
		t.Fatal("expected container to be removed")
	}
}

func TestNetworkMirrorLifecycle(t *testing.T) {
	r := newTestRegistry()
	n := &types.DockerNetwork{ID: "net1", Name: "velox-proxy", Driver: "bridge"}

	r.SetNetwork(n)
	if list := r.ListNetworks(); len(list) != 1 || list[0].Name != "velox-proxy" {
		t.Fatalf("expected 1 mirrored network, got %+v", list)
	}

	r.RemoveNetwork("net1")
	if list := r.ListNetworks(); len(list) != 0 {
		t.Fatalf("expected network to be removed, got %+v", list)
	}
}
