package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velox_projects_total",
			Help: "Total number of projects",
		},
	)

	ApplicationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velox_applications_total",
			Help: "Total number of applications by status",
		},
		[]string{"status"},
	)

	RoutesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velox_routes_total",
			Help: "Total number of routes by enabled state",
		},
		[]string{"enabled"},
	)

	CertificatesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velox_certificates_total",
			Help: "Total number of managed certificates",
		},
	)

	CertificatesExpiringSoon = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velox_certificates_expiring_soon",
			Help: "Number of certificates within the renewal window",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velox_containers_total",
			Help: "Total number of containers by state",
		},
		[]string{"state"},
	)

	GitReposTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velox_git_repos_total",
			Help: "Total number of registered git repositories",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_deployments_total",
			Help: "Total number of deployments by status",
		},
		[]string{"status"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velox_deployment_duration_seconds",
			Help:    "Deployment duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	RolledBackDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_deployments_rolled_back_total",
			Help: "Total number of deployments rolled back, by reason",
		},
		[]string{"reason"},
	)

	// Docker operation metrics
	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velox_container_start_duration_seconds",
			Help:    "Time taken to start a container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velox_container_stop_duration_seconds",
			Help:    "Time taken to stop a container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ImageBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velox_image_build_duration_seconds",
			Help:    "Time taken to build an application image in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Ingress / routing metrics
	RouteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_route_requests_total",
			Help: "Total number of routed requests by host and upstream",
		},
		[]string{"host", "upstream"},
	)

	UpstreamHealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_upstream_health_checks_total",
			Help: "Total number of upstream health checks by result",
		},
		[]string{"result"},
	)

	UpstreamsHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velox_upstreams_healthy",
			Help: "Number of healthy upstreams per route",
		},
		[]string{"route_id"},
	)

	// Certificate / ACME metrics
	CertificateIssuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_certificate_issuance_total",
			Help: "Total number of certificate issuance attempts by result",
		},
		[]string{"result"},
	)

	CertificateRenewalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velox_certificate_renewal_duration_seconds",
			Help:    "Time taken to renew a certificate in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Webhook metrics
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velox_webhooks_received_total",
			Help: "Total number of webhook deliveries received by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(ApplicationsTotal)
	prometheus.MustRegister(RoutesTotal)
	prometheus.MustRegister(CertificatesTotal)
	prometheus.MustRegister(CertificatesExpiringSoon)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(GitReposTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(RolledBackDeploymentsTotal)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(ImageBuildDuration)

	prometheus.MustRegister(RouteRequestsTotal)
	prometheus.MustRegister(UpstreamHealthChecksTotal)
	prometheus.MustRegister(UpstreamsHealthy)

	prometheus.MustRegister(CertificateIssuanceTotal)
	prometheus.MustRegister(CertificateRenewalDuration)

	prometheus.MustRegister(WebhooksReceivedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
