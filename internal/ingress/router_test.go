package ingress

import (
	"testing"

	"github.com/wku/velox-orchestrator/internal/types"
)

func TestMatchHost(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		host     string
		expected bool
	}{
		{name: "exact match", pattern: "example.com", host: "example.com", expected: true},
		{name: "exact match with port", pattern: "example.com", host: "example.com:8080", expected: true},
		{name: "exact mismatch", pattern: "example.com", host: "other.com", expected: false},
		{name: "wildcard match subdomain", pattern: "*.example.com", host: "api.example.com", expected: true},
		{name: "wildcard no match root", pattern: "*.example.com", host: "example.com", expected: false},
		{name: "empty pattern matches all", pattern: "", host: "any-host.com", expected: true},
		{name: "case sensitive mismatch", pattern: "Example.com", host: "example.com", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchHost(tt.pattern, tt.host); got != tt.expected {
				t.Errorf("matchHost(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.expected)
			}
		})
	}
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		requestPath string
		expected    bool
	}{
		{name: "root prefix matches everything", pattern: "/", requestPath: "/anything", expected: true},
		{name: "prefix match", pattern: "/api", requestPath: "/api/users", expected: true},
		{name: "prefix exact match", pattern: "/api", requestPath: "/api", expected: true},
		{name: "prefix no match", pattern: "/api", requestPath: "/web", expected: false},
		{name: "prefix rejects partial segment", pattern: "/api", requestPath: "/apiextra", expected: false},
		{name: "empty pattern matches everything", pattern: "", requestPath: "/anything", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchPath(tt.pattern, tt.requestPath); got != tt.expected {
				t.Errorf("matchPath(%q, %q) = %v, want %v", tt.pattern, tt.requestPath, got, tt.expected)
			}
		})
	}
}

func TestRouterMatchPicksLongestPath(t *testing.T) {
	r := NewRouter([]*types.Route{
		{ID: "root", Host: "app.example.com", Path: "/", Enabled: true},
		{ID: "api", Host: "app.example.com", Path: "/api", Enabled: true},
		{ID: "disabled", Host: "app.example.com", Path: "/api/users", Enabled: false},
	})

	route := r.Match("app.example.com", "/api/users")
	if route == nil || route.ID != "api" {
		t.Fatalf("expected route %q, got %+v", "api", route)
	}
}

func TestRouterMatchNoCandidate(t *testing.T) {
	r := NewRouter([]*types.Route{
		{ID: "root", Host: "app.example.com", Path: "/", Enabled: true},
	})
	if route := r.Match("other.example.com", "/"); route != nil {
		t.Fatalf("expected no match, got %+v", route)
	}
}

func TestNextUpstreamSkipsUnhealthy(t *testing.T) {
	r := NewRouter(nil)
	route := &types.Route{
		ID:           "svc",
		LoadBalancer: types.LoadBalancerRoundRobin,
		Upstreams: []types.Upstream{
			{Address: "10.0.0.1", Port: 80, Healthy: false},
			{Address: "10.0.0.2", Port: 80, Healthy: true},
		},
	}

	up, ok := r.NextUpstream(route, "1.2.3.4")
	if !ok || up.Address != "10.0.0.2" {
		t.Fatalf("expected healthy upstream 10.0.0.2, got %+v ok=%v", up, ok)
	}
}

func TestNextUpstreamNoneHealthy(t *testing.T) {
	r := NewRouter(nil)
	route := &types.Route{
		Upstreams: []types.Upstream{{Address: "10.0.0.1", Healthy: false}},
	}
	if _, ok := r.NextUpstream(route, "1.2.3.4"); ok {
		t.Fatal("expected ok=false with no healthy upstreams")
	}
}

func TestNextUpstreamIPHashIsStable(t *testing.T) {
	r := NewRouter(nil)
	route := &types.Route{
		LoadBalancer: types.LoadBalancerIPHash,
		Upstreams: []types.Upstream{
			{Address: "10.0.0.1", Healthy: true},
			{Address: "10.0.0.2", Healthy: true},
			{Address: "10.0.0.3", Healthy: true},
		},
	}

	first, ok := r.NextUpstream(route, "203.0.113.5")
	if !ok {
		t.Fatal("expected a healthy upstream")
	}
	for i := 0; i < 5; i++ {
		again, ok := r.NextUpstream(route, "203.0.113.5")
		if !ok || again.Address != first.Address {
			t.Fatalf("ip_hash should be stable for the same client IP, got %+v then %+v", first, again)
		}
	}
}
