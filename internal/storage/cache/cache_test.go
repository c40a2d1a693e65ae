package cache

import "testing"

func TestParseUpstream(t *testing.T) {
	addr, port, weight, err := ParseUpstream("10.0.0.5:8080:3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "10.0.0.5" || port != 8080 || weight != 3 {
		t.Fatalf("got (%s, %d, %d)", addr, port, weight)
	}
}

func TestParseUpstreamMalformed(t *testing.T) {
	if _, _, _, err := ParseUpstream("not-an-upstream"); err == nil {
		t.Fatal("expected error for malformed entry")
	}
	if _, _, _, err := ParseUpstream("host:not-a-port:1"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestKeyLayout(t *testing.T) {
	if got := routeKey("r1"); got != "routes:r1" {
		t.Errorf("routeKey = %q", got)
	}
	if got := routeHostIndexKey("example.com"); got != "routes:index:host:example.com" {
		t.Errorf("routeHostIndexKey = %q", got)
	}
	if got := upstreamsKey("r1"); got != "upstreams:r1" {
		t.Errorf("upstreamsKey = %q", got)
	}
	if got := upstreamHealthKey("r1", "10.0.0.1", 80); got != "upstreams:health:r1:10.0.0.1:80" {
		t.Errorf("upstreamHealthKey = %q", got)
	}
	if got := certKey("ex.example"); got != "certs:ex.example" {
		t.Errorf("certKey = %q", got)
	}
}
