package dockerd

import "testing"

func testProvider() *Provider {
	return &Provider{labelPrefix: "velox.", proxyNetwork: "velox-proxy"}
}

func TestParseLabelsBasicRoute(t *testing.T) {
	p := testProvider()
	labels := map[string]string{
		"velox.enable":                       "true",
		"velox.http.routers.web.host":        "`app.example.com`",
		"velox.http.routers.web.port":        "3000",
		"velox.http.routers.web.tls":         "true",
		"velox.http.routers.web.middlewares": "auth, ratelimit",
	}
	networks := map[string]string{"velox-proxy": "10.0.0.5"}

	routes := p.parseLabels(labels, "abc123def456", networks)
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	r := routes[0]
	if r.ID != "abc123def456-web" {
		t.Errorf("unexpected route id %q", r.ID)
	}
	if r.Host != "app.example.com" {
		t.Errorf("expected backticks stripped, got %q", r.Host)
	}
	if r.Protocol != "https" {
		t.Errorf("expected https from tls=true, got %q", r.Protocol)
	}
	if len(r.Upstreams) != 1 || r.Upstreams[0].Address != "10.0.0.5" || r.Upstreams[0].Port != 3000 {
		t.Errorf("unexpected upstreams %+v", r.Upstreams)
	}
	if len(r.Middlewares) != 2 || r.Middlewares[0] != "auth" || r.Middlewares[1] != "ratelimit" {
		t.Errorf("unexpected middlewares %+v", r.Middlewares)
	}
	if !r.PreserveHost {
		t.Error("expected preserve_host to default true")
	}
}

func TestParseLabelsSkipsRouterWithoutHost(t *testing.T) {
	p := testProvider()
	labels := map[string]string{
		"velox.http.routers.web.port": "3000",
	}
	routes := p.parseLabels(labels, "abc123def456", map[string]string{"bridge": "172.17.0.2"})
	if len(routes) != 0 {
		t.Fatalf("expected no routes without a host, got %d", len(routes))
	}
}

func TestParseLabelsNoNetworks(t *testing.T) {
	p := testProvider()
	routes := p.parseLabels(map[string]string{"velox.http.routers.web.host": "x.example.com"}, "abc", nil)
	if routes != nil {
		t.Fatalf("expected nil routes with no ip addresses, got %+v", routes)
	}
}

func TestParseLabelsFallsBackToAnyNetwork(t *testing.T) {
	p := testProvider()
	labels := map[string]string{"velox.http.routers.web.host": "x.example.com"}
	routes := p.parseLabels(labels, "abc", map[string]string{"bridge": "172.17.0.2"})
	if len(routes) != 1 || routes[0].Upstreams[0].Address != "172.17.0.2" {
		t.Fatalf("expected fallback to the only attached network, got %+v", routes)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef0123456789"); got != "0123456789ab" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID short input = %q", got)
	}
}

func TestStripDockerLogHeaders(t *testing.T) {
	frame := append([]byte{1, 0, 0, 0, 0, 0, 0, 5}, []byte("hello")...)
	if got := stripDockerLogHeaders(frame); got != "hello" {
		t.Errorf("stripDockerLogHeaders = %q", got)
	}
}
