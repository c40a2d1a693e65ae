// Package types defines the data model shared across the orchestrator:
// projects, applications, deployments, routes, certificates, git
// repositories, secrets and their ephemeral runtime mirrors.
package types

import "time"

// Protocol is the wire protocol a Route serves.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolTCP   Protocol = "tcp"
	ProtocolUDP   Protocol = "udp"
)

// HealthCheckType selects how a Route's upstreams are probed.
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
	HealthCheckNone HealthCheckType = "none"
)

// LoadBalancer selects how a Route distributes traffic across upstreams.
type LoadBalancer string

const (
	LoadBalancerRoundRobin LoadBalancer = "round_robin"
	LoadBalancerLeastConn  LoadBalancer = "least_conn"
	LoadBalancerIPHash     LoadBalancer = "ip_hash"
)

// DeploySource is where an Application's image comes from.
type DeploySource string

const (
	SourceGit     DeploySource = "git"
	SourceImage   DeploySource = "image"
	SourceCompose DeploySource = "compose"
)

// DeployStatus is the lifecycle state of an Application or Deployment.
type DeployStatus string

const (
	StatusPending   DeployStatus = "pending"
	StatusBuilding  DeployStatus = "building"
	StatusDeploying DeployStatus = "deploying"
	StatusRunning   DeployStatus = "running"
	StatusStopped   DeployStatus = "stopped"
	StatusFailed    DeployStatus = "failed"
)

// GitProvider identifies the source-control host a GitRepo is hosted on.
type GitProvider string

const (
	ProviderGitHub GitProvider = "github"
	ProviderGitLab GitProvider = "gitlab"
	ProviderGitea  GitProvider = "gitea"
)

// HealthCheckTest is the recognized shape of a declared container
// healthcheck command: either an argv-style command or a shell string.
// Exactly one of Command / Shell is populated.
type HealthCheckTest struct {
	Command []string // ["CMD", "curl", ...] runs directly
	Shell   string   // ["CMD-SHELL", "..."] or a bare string runs under `sh -c`
}

// HealthCheck describes how to probe an Application's containers during a
// deploy, or a Route's upstreams during steady-state monitoring.
type HealthCheck struct {
	Type               HealthCheckType `json:"type"`
	Test               HealthCheckTest `json:"-"`
	Path               string          `json:"path"`
	Interval           int             `json:"interval"`            // seconds, default 5 in deploy gate / 10 in Health Checker
	Timeout            int             `json:"timeout"`             // seconds
	HealthyThreshold   int             `json:"healthy_threshold"`   // default 2
	UnhealthyThreshold int             `json:"unhealthy_threshold"` // default 3
}

// DefaultHealthCheck returns the spec's documented defaults.
func DefaultHealthCheck() *HealthCheck {
	return &HealthCheck{
		Type:               HealthCheckHTTP,
		Path:               "/",
		Interval:           10,
		Timeout:            5,
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
	}
}

// Upstream is one reachable backend endpoint behind a Route.
type Upstream struct {
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Weight      int    `json:"weight"`
	Healthy     bool   `json:"healthy"`
	ContainerID string `json:"container_id,omitempty"`
}

// Middleware is a named, reusable request-processing rule referenced by
// Route.Middlewares.
type Middleware struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// Route is one routing rule. (Host, Path) is the primary lookup key; ID is
// unique and, for routes derived from container labels, has the form
// "{container_short_id}-{router}".
type Route struct {
	ID           string       `json:"id" db:"id"`
	Host         string       `json:"host" db:"host"`
	Path         string       `json:"path" db:"path"`
	Protocol     Protocol     `json:"protocol" db:"protocol"`
	Upstreams    []Upstream   `json:"upstreams" db:"-"`
	Middlewares  []string     `json:"middlewares" db:"-"`
	LoadBalancer LoadBalancer `json:"load_balancer" db:"load_balancer"`
	HealthCheck  *HealthCheck `json:"health_check,omitempty" db:"-"`
	StripPath    bool         `json:"strip_path" db:"strip_path"`
	PreserveHost bool         `json:"preserve_host" db:"preserve_host"`
	Enabled      bool         `json:"enabled" db:"enabled"`
}

// Certificate is the on-disk ACME certificate issued for one domain.
type Certificate struct {
	Domain    string    `json:"domain" db:"domain"`
	CertPath  string    `json:"cert_path" db:"cert_path"`
	KeyPath   string    `json:"key_path" db:"key_path"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	AutoRenew bool      `json:"auto_renew" db:"auto_renew"`
}

// DockerNetwork mirrors a runtime network. Ephemeral — reconstructed from
// the runtime on restart, never persisted durably.
type DockerNetwork struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Driver    string    `json:"driver"`
	Subnet    string    `json:"subnet,omitempty"`
	Gateway   string    `json:"gateway,omitempty"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

// DockerContainer mirrors a runtime container, keyed by its 12-hex-char
// short id. Ephemeral.
type DockerContainer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	State     string            `json:"state"`
	Labels    map[string]string `json:"labels"`
	Networks  map[string]string `json:"networks"` // network name -> IP
	CreatedAt time.Time         `json:"created_at"`
}

// Application is the declared desired state of one service within a
// project.
type Application struct {
	ID           string            `json:"id" db:"id"`
	ProjectID    string            `json:"project_id" db:"project_id"`
	Name         string            `json:"name" db:"name"`
	Source       DeploySource      `json:"source" db:"source"`
	SourceURL    string            `json:"source_url" db:"source_url"`
	SourceBranch string            `json:"source_branch" db:"source_branch"`
	Dockerfile   string            `json:"dockerfile" db:"dockerfile"`
	BuildContext string            `json:"build_context" db:"build_context"`
	Image        string            `json:"image" db:"image"`
	Domain       string            `json:"domain" db:"domain"`
	Port         int               `json:"port" db:"port"`
	Env          map[string]string `json:"env" db:"-"`
	Volumes      []string          `json:"volumes" db:"-"`
	Networks     []string          `json:"networks" db:"-"`
	Replicas     int               `json:"replicas" db:"replicas"`
	DependsOn    []string          `json:"depends_on" db:"-"`
	HealthCheck  *HealthCheck      `json:"healthcheck,omitempty" db:"-"`
	Status       DeployStatus      `json:"status" db:"status"`
	ContainerIDs []string          `json:"container_ids" db:"-"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Project is a logical grouping of related applications sharing
// environment and lifecycle.
type Project struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	SourcePath  string            `json:"source_path" db:"source_path"`
	Env         map[string]string `json:"env" db:"-"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// Deployment is an immutable history record for one attempt to realize an
// Application at a specific, monotonically increasing version.
type Deployment struct {
	ID           string       `json:"id" db:"id"`
	AppID        string       `json:"app_id" db:"app_id"`
	Version      int          `json:"version" db:"version"`
	Status       DeployStatus `json:"status" db:"status"`
	Image        string       `json:"image" db:"image"`
	ContainerIDs []string     `json:"container_ids" db:"-"`
	Logs         string       `json:"logs" db:"logs"`
	StartedAt    time.Time    `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
}

// GitRepo is a registered source-control repository that drives deploys
// via webhook. (URL, Branch) is unique.
type GitRepo struct {
	ID            string      `json:"id" db:"id"`
	Provider      GitProvider `json:"provider" db:"provider"`
	URL           string      `json:"url" db:"url"`
	Branch        string      `json:"branch" db:"branch"`
	ConfigFile    string      `json:"config_file" db:"config_file"`
	WebhookSecret string      `json:"webhook_secret" db:"webhook_secret"`
	ProjectID     string      `json:"project_id,omitempty" db:"project_id"`
	LastCommit    string      `json:"last_commit" db:"last_commit"`
	LastDeployAt  *time.Time  `json:"last_deploy_at,omitempty" db:"last_deploy_at"`
	Enabled       bool        `json:"enabled" db:"enabled"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// Secret is a project-scoped named value, referenced from env values as
// "${name}". ID is conventionally "{project_id}-{name}".
type Secret struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Name      string    `json:"name" db:"name"`
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SecretID builds the conventional Secret primary key.
func SecretID(projectID, name string) string {
	return projectID + "-" + name
}
