package health

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/metrics"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Monitor probes every enabled Route's upstreams and writes Healthy flips
// back through the registry, so the routing table a proxy reads stays
// current without that proxy doing its own liveness tracking.
type Monitor struct {
	reg *registry.Registry

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	statuses  map[string]*Status
	syncEvery time.Duration
}

// NewMonitor builds a Monitor against reg. Callers start it with Run.
func NewMonitor(reg *registry.Registry) *Monitor {
	return &Monitor{
		reg:       reg,
		active:    make(map[string]context.CancelFunc),
		statuses:  make(map[string]*Status),
		syncEvery: 5 * time.Second,
	}
}

// Run blocks, syncing the monitored upstream set against the routing
// table every syncEvery until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.syncEvery)
	defer ticker.Stop()

	m.sync(ctx)
	for {
		select {
		case <-ticker.C:
			m.sync(ctx)
		case <-ctx.Done():
			m.mu.Lock()
			for _, cancel := range m.active {
				cancel()
			}
			m.mu.Unlock()
			return
		}
	}
}

// sync starts checkers for upstreams newly present with a HealthCheck
// configured, and stops checkers for upstreams that disappeared or whose
// route was disabled or lost its HealthCheck.
func (m *Monitor) sync(ctx context.Context) {
	routes, err := m.reg.ListRoutes(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Msg("health monitor: listing routes")
		return
	}

	wanted := make(map[string]struct{})
	for _, route := range routes {
		if !route.Enabled || route.HealthCheck == nil || route.HealthCheck.Type == types.HealthCheckNone {
			continue
		}
		for _, up := range route.Upstreams {
			key := upstreamKey(route.ID, up)
			wanted[key] = struct{}{}

			m.mu.Lock()
			_, running := m.active[key]
			m.mu.Unlock()
			if running {
				continue
			}
			m.start(ctx, route, up)
		}
	}

	m.mu.Lock()
	for key, cancel := range m.active {
		if _, ok := wanted[key]; !ok {
			cancel()
			delete(m.active, key)
			delete(m.statuses, key)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) start(ctx context.Context, route *types.Route, up types.Upstream) {
	checker, err := newChecker(route.HealthCheck, up)
	if err != nil {
		log.Logger.Warn().Err(err).Str("route", route.ID).Msg("health monitor: unsupported check type")
		return
	}

	key := upstreamKey(route.ID, up)
	checkCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.active[key] = cancel
	m.statuses[key] = NewStatus()
	m.mu.Unlock()

	cfg := Config{
		Interval: time.Duration(route.HealthCheck.Interval) * time.Second,
		Timeout:  time.Duration(route.HealthCheck.Timeout) * time.Second,
		Retries:  maxInt(route.HealthCheck.UnhealthyThreshold, 1),
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	go m.loop(checkCtx, route.ID, up, checker, cfg, key)
}

func (m *Monitor) loop(ctx context.Context, routeID string, up types.Upstream, checker Checker, cfg Config, key string) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	m.runOnce(ctx, routeID, up, checker, cfg, key)
	for {
		select {
		case <-ticker.C:
			m.runOnce(ctx, routeID, up, checker, cfg, key)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context, routeID string, up types.Upstream, checker Checker, cfg Config, key string) {
	checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	result := checker.Check(checkCtx)
	cancel()

	if result.Healthy {
		metrics.UpstreamHealthChecksTotal.WithLabelValues("pass").Inc()
	} else {
		metrics.UpstreamHealthChecksTotal.WithLabelValues("fail").Inc()
	}

	m.mu.Lock()
	status := m.statuses[key]
	wasHealthy := status.Healthy
	status.Update(result, cfg)
	nowHealthy := status.Healthy
	m.mu.Unlock()

	if nowHealthy == wasHealthy {
		return
	}

	if err := m.reflectHealth(ctx, routeID, up.Address, up.Port, nowHealthy); err != nil {
		log.Logger.Error().Err(err).Str("route", routeID).Str("upstream", up.Address).Msg("health monitor: updating route")
		return
	}
	log.Logger.Info().Str("route", routeID).Str("upstream", up.Address).Bool("healthy", nowHealthy).Msg("upstream health changed")
}

func (m *Monitor) reflectHealth(ctx context.Context, routeID, address string, port int, healthy bool) error {
	route, err := m.reg.GetRoute(ctx, routeID)
	if err != nil {
		return err
	}
	changed := false
	for i := range route.Upstreams {
		if route.Upstreams[i].Address == address && route.Upstreams[i].Port == port {
			route.Upstreams[i].Healthy = healthy
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := m.reg.SetRoute(ctx, route); err != nil {
		return err
	}

	healthyCount := 0
	for _, u := range route.Upstreams {
		if u.Healthy {
			healthyCount++
		}
	}
	metrics.UpstreamsHealthy.WithLabelValues(route.ID).Set(float64(healthyCount))
	return nil
}

func newChecker(hc *types.HealthCheck, up types.Upstream) (Checker, error) {
	switch hc.Type {
	case types.HealthCheckHTTP:
		path := hc.Path
		if path == "" {
			path = "/"
		}
		url := fmt.Sprintf("http://%s:%d%s", up.Address, up.Port, path)
		return NewHTTPChecker(url), nil
	case types.HealthCheckTCP:
		address := up.Address + ":" + strconv.Itoa(up.Port)
		return NewTCPChecker(address), nil
	default:
		return nil, fmt.Errorf("unsupported health check type: %s", hc.Type)
	}
}

func upstreamKey(routeID string, up types.Upstream) string {
	return routeID + "|" + up.Address + "|" + strconv.Itoa(up.Port)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
