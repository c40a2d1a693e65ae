// Package ingress matches incoming requests against the routing table
// and picks an upstream within the matched Route.
//
// It does not terminate connections or proxy bytes: the external
// HTTP/HTTPS data-plane proxy reads the routing state from the hot cache
// (internal/storage/cache) independently. This package exists so route-matching
// and load-balancer-selection logic can be exercised and tested without
// standing up a proxy.
//
// Host matching supports an exact host or a "*.domain" wildcard, with
// any port suffix ignored. Path matching is longest-prefix: among
// Routes whose Host matches, the one with the longest matching Path
// wins. NextUpstream then picks a healthy types.Upstream according to
// the Route's LoadBalancer strategy (round_robin, least_conn
// approximated by highest weight, or ip_hash).
package ingress
