package metrics

import (
	"context"
	"time"

	"github.com/wku/velox-orchestrator/internal/types"
)

// StatsSource is the subset of the Registry's read API the collector needs.
// Defined here (rather than imported from internal/registry) to avoid a
// metrics -> registry -> metrics import cycle; *registry.Registry satisfies
// it.
type StatsSource interface {
	ListProjects(ctx context.Context) ([]*types.Project, error)
	ListApplications(ctx context.Context) ([]*types.Application, error)
	ListRoutes(ctx context.Context) ([]*types.Route, error)
	ListCertificates(ctx context.Context) ([]*types.Certificate, error)
	ListGitRepos(ctx context.Context) ([]*types.GitRepo, error)
	ExpiringCertificatesBefore(ctx context.Context, before time.Time) ([]*types.Certificate, error)
	ListContainers(ctx context.Context) ([]*types.DockerContainer, error)
}

// Collector periodically samples registry state into gauges.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectProjectMetrics(ctx)
	c.collectApplicationMetrics(ctx)
	c.collectRouteMetrics(ctx)
	c.collectCertificateMetrics(ctx)
	c.collectGitRepoMetrics(ctx)
	c.collectContainerMetrics(ctx)
}

func (c *Collector) collectProjectMetrics(ctx context.Context) {
	projects, err := c.source.ListProjects(ctx)
	if err != nil {
		return
	}
	ProjectsTotal.Set(float64(len(projects)))
}

func (c *Collector) collectApplicationMetrics(ctx context.Context) {
	apps, err := c.source.ListApplications(ctx)
	if err != nil {
		return
	}

	counts := make(map[types.DeployStatus]int)
	for _, app := range apps {
		counts[app.Status]++
	}
	for status, count := range counts {
		ApplicationsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectRouteMetrics(ctx context.Context) {
	routes, err := c.source.ListRoutes(ctx)
	if err != nil {
		return
	}

	var enabled, disabled int
	for _, r := range routes {
		if r.Enabled {
			enabled++
		} else {
			disabled++
		}
	}
	RoutesTotal.WithLabelValues("true").Set(float64(enabled))
	RoutesTotal.WithLabelValues("false").Set(float64(disabled))
}

func (c *Collector) collectCertificateMetrics(ctx context.Context) {
	certs, err := c.source.ListCertificates(ctx)
	if err != nil {
		return
	}
	CertificatesTotal.Set(float64(len(certs)))

	expiring, err := c.source.ExpiringCertificatesBefore(ctx, time.Now().AddDate(0, 0, 30))
	if err != nil {
		return
	}
	CertificatesExpiringSoon.Set(float64(len(expiring)))
}

func (c *Collector) collectGitRepoMetrics(ctx context.Context) {
	repos, err := c.source.ListGitRepos(ctx)
	if err != nil {
		return
	}
	GitReposTotal.Set(float64(len(repos)))
}

func (c *Collector) collectContainerMetrics(ctx context.Context) {
	containers, err := c.source.ListContainers(ctx)
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, ctr := range containers {
		counts[ctr.State]++
	}
	for state, count := range counts {
		ContainersTotal.WithLabelValues(state).Set(float64(count))
	}
}
