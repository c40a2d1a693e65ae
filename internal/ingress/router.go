package ingress

import (
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wku/velox-orchestrator/internal/types"
)

// Router matches incoming requests against the routing table the registry
// maintains and picks an upstream within the matched Route. It holds no
// state about who consumes the match: the data-plane proxy that actually
// terminates connections is a separate process (spec §1) and reloads its
// own config from the same Route list this package matches against.
type Router struct {
	mu     sync.RWMutex
	routes []*types.Route

	rrMu sync.Mutex
	rr   map[string]*uint64 // route ID -> round-robin cursor
}

// NewRouter builds a Router over routes.
func NewRouter(routes []*types.Route) *Router {
	return &Router{
		routes: routes,
		rr:     make(map[string]*uint64),
	}
}

// UpdateRoutes swaps in a freshly loaded routing table.
func (r *Router) UpdateRoutes(routes []*types.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = routes
}

// Match finds the enabled Route whose Host pattern matches host and whose
// Path is the longest prefix of path among matching candidates. Returns nil
// if nothing matches.
func (r *Router) Match(host, path string) *types.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *types.Route
	var bestLen int
	for _, route := range r.routes {
		if !route.Enabled {
			continue
		}
		if !matchHost(route.Host, host) {
			continue
		}
		if !matchPath(route.Path, path) {
			continue
		}
		if len(route.Path) > bestLen {
			best = route
			bestLen = len(route.Path)
		}
	}
	return best
}

// NextUpstream picks one healthy Upstream from route according to its
// LoadBalancer strategy, considering clientIP only for ip_hash. Returns
// false if route has no healthy upstreams.
func (r *Router) NextUpstream(route *types.Route, clientIP string) (types.Upstream, bool) {
	healthy := make([]types.Upstream, 0, len(route.Upstreams))
	for _, u := range route.Upstreams {
		if u.Healthy {
			healthy = append(healthy, u)
		}
	}
	if len(healthy) == 0 {
		return types.Upstream{}, false
	}

	switch route.LoadBalancer {
	case types.LoadBalancerLeastConn:
		// No live connection counts are tracked here; approximate with the
		// highest configured weight among healthy upstreams.
		best := healthy[0]
		for _, u := range healthy[1:] {
			if u.Weight > best.Weight {
				best = u
			}
		}
		return best, true

	case types.LoadBalancerIPHash:
		h := fnv.New32a()
		h.Write([]byte(clientIP))
		idx := int(h.Sum32()) % len(healthy)
		if idx < 0 {
			idx += len(healthy)
		}
		return healthy[idx], true

	default: // LoadBalancerRoundRobin and unset
		cursor := r.cursorFor(route.ID)
		n := atomic.AddUint64(cursor, 1)
		return healthy[int(n-1)%len(healthy)], true
	}
}

func (r *Router) cursorFor(routeID string) *uint64 {
	r.rrMu.Lock()
	defer r.rrMu.Unlock()
	c, ok := r.rr[routeID]
	if !ok {
		c = new(uint64)
		r.rr[routeID] = c
	}
	return c
}

// matchHost matches an exact host or a "*.domain" wildcard pattern, with
// any port suffix on host ignored.
func matchHost(pattern, host string) bool {
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	if pattern == "" || pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

// matchPath matches pattern as a path prefix. "" and "/" match everything.
func matchPath(pattern, requestPath string) bool {
	if pattern == "" || pattern == "/" {
		return true
	}
	if !strings.HasPrefix(requestPath, pattern) {
		return false
	}
	if len(requestPath) == len(pattern) {
		return true
	}
	if pattern[len(pattern)-1] == '/' {
		return true
	}
	return requestPath[len(pattern)] == '/'
}
