// Package cache is the hot-path projection of routing state, read by the
// data-plane proxy on every request. It is a denormalized, best-effort
// mirror of internal/storage/pg: the durable store is authoritative, the
// cache may transiently lag it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wku/velox-orchestrator/internal/types"
)

// Cache wraps a go-redis client with the key layout the routing table uses.
type Cache struct {
	rdb *redis.Client
}

// New builds a Cache against addr (host:port), selecting db and
// authenticating with password if non-empty.
func New(addr, password string, db int) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func routeKey(id string) string         { return "routes:" + id }
func routeHostIndexKey(host string) string { return "routes:index:host:" + host }
func upstreamsKey(routeID string) string { return "upstreams:" + routeID }
func upstreamHealthKey(routeID, addr string, port int) string {
	return fmt.Sprintf("upstreams:health:%s:%s:%d", routeID, addr, port)
}
func certKey(domain string) string { return "certs:" + domain }

const (
	routesEnabledIndexKey  = "routes:index:enabled"
	certsExpiringIndexKey  = "certs:index:expiring"
	configVersionKey       = "config:version"
	acmeChallengeKeyPrefix = "acme:challenge:"
)

// SetRoute mirrors a Route into the cache: the serialized route, its
// upstream list, its host index entry, and the enabled set membership.
// Callers pipeline this after the durable write and then call BumpVersion.
func (c *Cache) SetRoute(ctx context.Context, r *types.Route) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}

	upstreams := make([]any, len(r.Upstreams))
	for i, u := range r.Upstreams {
		upstreams[i] = fmt.Sprintf("%s:%d:%d", u.Address, u.Port, u.Weight)
	}

	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, routeKey(r.ID), payload, 0)
		pipe.SAdd(ctx, routeHostIndexKey(r.Host), r.ID)
		pipe.Del(ctx, upstreamsKey(r.ID))
		if len(upstreams) > 0 {
			pipe.RPush(ctx, upstreamsKey(r.ID), upstreams...)
		}
		if r.Enabled {
			pipe.SAdd(ctx, routesEnabledIndexKey, r.ID)
		} else {
			pipe.SRem(ctx, routesEnabledIndexKey, r.ID)
		}
		return nil
	})
	return err
}

// DeleteRoute removes a route from the serialized-route key, its
// upstreams list, the per-host index set, and the enabled set.
func (c *Cache) DeleteRoute(ctx context.Context, r *types.Route) error {
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, routeKey(r.ID))
		pipe.Del(ctx, upstreamsKey(r.ID))
		pipe.SRem(ctx, routeHostIndexKey(r.Host), r.ID)
		pipe.SRem(ctx, routesEnabledIndexKey, r.ID)
		return nil
	})
	return err
}

// GetRoute reads the serialized route back, or redis.Nil if absent.
func (c *Cache) GetRoute(ctx context.Context, id string) (*types.Route, error) {
	payload, err := c.rdb.Get(ctx, routeKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var r types.Route
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode route %s: %w", id, err)
	}
	return &r, nil
}

// RouteIDsByHost returns the route ids registered under host's index set.
func (c *Cache) RouteIDsByHost(ctx context.Context, host string) ([]string, error) {
	return c.rdb.SMembers(ctx, routeHostIndexKey(host)).Result()
}

// EnabledRouteIDs returns every route id in the enabled set.
func (c *Cache) EnabledRouteIDs(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, routesEnabledIndexKey).Result()
}

// Upstreams returns the ordered "address:port:weight" list for routeID.
func (c *Cache) Upstreams(ctx context.Context, routeID string) ([]string, error) {
	return c.rdb.LRange(ctx, upstreamsKey(routeID), 0, -1).Result()
}

// SetUpstreamHealth records the liveness of one upstream endpoint, used by
// the health checker to avoid routing to a failed backend without a
// round trip to the durable store.
func (c *Cache) SetUpstreamHealth(ctx context.Context, routeID, addr string, port int, healthy bool, ttl time.Duration) error {
	val := "0"
	if healthy {
		val = "1"
	}
	return c.rdb.Set(ctx, upstreamHealthKey(routeID, addr, port), val, ttl).Err()
}

// UpstreamHealthy reports the last recorded liveness for one endpoint,
// defaulting to true (healthy) if no entry has been recorded yet.
func (c *Cache) UpstreamHealthy(ctx context.Context, routeID, addr string, port int) (bool, error) {
	val, err := c.rdb.Get(ctx, upstreamHealthKey(routeID, addr, port)).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

// SetCertificate mirrors a Certificate and refreshes its entry in the
// expiring-soon sorted set, scored by its expiry unix timestamp.
func (c *Cache) SetCertificate(ctx context.Context, cert *types.Certificate) error {
	payload, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, certKey(cert.Domain), payload, 0)
		pipe.ZAdd(ctx, certsExpiringIndexKey, &redis.Z{
			Score:  float64(cert.ExpiresAt.Unix()),
			Member: cert.Domain,
		})
		return nil
	})
	return err
}

// DeleteCertificate removes a certificate from the cache and the expiring
// index.
func (c *Cache) DeleteCertificate(ctx context.Context, domain string) error {
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, certKey(domain))
		pipe.ZRem(ctx, certsExpiringIndexKey, domain)
		return nil
	})
	return err
}

// ExpiringCertificateDomains returns domains in the expiring-soon set whose
// score (expiry unix time) is before the given timestamp.
func (c *Cache) ExpiringCertificateDomains(ctx context.Context, before time.Time) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, certsExpiringIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
}

// BumpVersion increments config:version and returns the new value. Call
// once per mutating write, after the durable write and the cache mirror.
func (c *Cache) BumpVersion(ctx context.Context) (int64, error) {
	return c.rdb.Incr(ctx, configVersionKey).Result()
}

// Version returns the current config:version, or 0 if never bumped.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	val, err := c.rdb.Get(ctx, configVersionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// SetACMEChallenge stores an HTTP-01 challenge response keyed by token,
// expiring after ttl (the spec caps this at 300s).
func (c *Cache) SetACMEChallenge(ctx context.Context, token, keyAuthorization string, ttl time.Duration) error {
	return c.rdb.Set(ctx, acmeChallengeKeyPrefix+token, keyAuthorization, ttl).Err()
}

// GetACMEChallenge fetches the key authorization stored for token, or
// redis.Nil if it expired or was never set.
func (c *Cache) GetACMEChallenge(ctx context.Context, token string) (string, error) {
	return c.rdb.Get(ctx, acmeChallengeKeyPrefix+token).Result()
}

// DeleteACMEChallenge purges a challenge once it has resolved or timed out.
func (c *Cache) DeleteACMEChallenge(ctx context.Context, token string) error {
	return c.rdb.Del(ctx, acmeChallengeKeyPrefix+token).Err()
}

// IsNotFound reports whether err is the go-redis sentinel for a missing key.
func IsNotFound(err error) bool {
	return err == redis.Nil
}

// parseUpstream splits a cached "address:port:weight" entry.
func parseUpstream(s string) (addr string, port, weight int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("malformed upstream entry %q", s)
	}
	port, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed upstream port in %q: %w", s, err)
	}
	weight, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed upstream weight in %q: %w", s, err)
	}
	return parts[0], port, weight, nil
}

// ParseUpstream exposes parseUpstream for callers outside the package
// that read the cached upstream list back into its parts.
func ParseUpstream(s string) (addr string, port, weight int, err error) {
	return parseUpstream(s)
}
