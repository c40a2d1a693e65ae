// Package pg is the durable control-plane store: one table per entity,
// schema applied via embedded golang-migrate migrations, accessed through
// sqlx+lib/pq.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Store is the durable control-plane store.
type Store struct {
	db *sqlx.DB
}

// Open connects to databaseURL, applies embedded migrations, and returns a
// ready Store.
func Open(databaseURL string) (*Store, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection pool is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(kind, id string) error {
	return apierr.New(apierr.NotFound, fmt.Sprintf("%s %q not found", kind, id))
}

// --- Projects ---------------------------------------------------------

type projectRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	SourcePath  string    `db:"source_path"`
	Env         []byte    `db:"env"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *projectRow) toProject() (*types.Project, error) {
	p := &types.Project{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		SourcePath:  r.SourcePath,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Env) > 0 {
		if err := json.Unmarshal(r.Env, &p.Env); err != nil {
			return nil, fmt.Errorf("decode project env: %w", err)
		}
	}
	return p, nil
}

// UpsertProject inserts or updates a project by id.
func (s *Store) UpsertProject(ctx context.Context, p *types.Project) error {
	env, err := json.Marshal(p.Env)
	if err != nil {
		return fmt.Errorf("encode project env: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, source_path, env, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = $2, description = $3, source_path = $4, env = $5, updated_at = $7
	`, p.ID, p.Name, p.Description, p.SourcePath, env, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toProject()
}

// ListProjects returns every project.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM projects ORDER BY created_at`); err != nil {
		return nil, err
	}
	out := make([]*types.Project, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toProject()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DeleteProject removes a project and (via ON DELETE CASCADE) its
// applications and secrets.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "project", id)
}

// --- Applications -------------------------------------------------------

type applicationRow struct {
	ID           string    `db:"id"`
	ProjectID    string    `db:"project_id"`
	Name         string    `db:"name"`
	Source       string    `db:"source"`
	SourceURL    string    `db:"source_url"`
	SourceBranch string    `db:"source_branch"`
	Dockerfile   string    `db:"dockerfile"`
	BuildContext string    `db:"build_context"`
	Image        string    `db:"image"`
	Domain       string    `db:"domain"`
	Port         int       `db:"port"`
	Env          []byte    `db:"env"`
	Volumes      []byte    `db:"volumes"`
	Networks     []byte    `db:"networks"`
	Replicas     int       `db:"replicas"`
	DependsOn    []byte    `db:"depends_on"`
	HealthCheck  []byte    `db:"healthcheck"`
	Status       string    `db:"status"`
	ContainerIDs []byte    `db:"container_ids"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *applicationRow) toApplication() (*types.Application, error) {
	a := &types.Application{
		ID:           r.ID,
		ProjectID:    r.ProjectID,
		Name:         r.Name,
		Source:       types.DeploySource(r.Source),
		SourceURL:    r.SourceURL,
		SourceBranch: r.SourceBranch,
		Dockerfile:   r.Dockerfile,
		BuildContext: r.BuildContext,
		Image:        r.Image,
		Domain:       r.Domain,
		Port:         r.Port,
		Replicas:     r.Replicas,
		Status:       types.DeployStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for dst, src := range map[any][]byte{
		&a.Env: r.Env, &a.Volumes: r.Volumes, &a.Networks: r.Networks,
		&a.DependsOn: r.DependsOn, &a.ContainerIDs: r.ContainerIDs,
	} {
		if len(src) == 0 {
			continue
		}
		if err := json.Unmarshal(src, dst); err != nil {
			return nil, fmt.Errorf("decode application %s: %w", r.ID, err)
		}
	}
	if len(r.HealthCheck) > 0 {
		var hc types.HealthCheck
		if err := json.Unmarshal(r.HealthCheck, &hc); err != nil {
			return nil, fmt.Errorf("decode application healthcheck %s: %w", r.ID, err)
		}
		a.HealthCheck = &hc
	}
	return a, nil
}

// UpsertApplication inserts or updates an application by id.
func (s *Store) UpsertApplication(ctx context.Context, a *types.Application) error {
	env, err := json.Marshal(a.Env)
	if err != nil {
		return err
	}
	volumes, err := json.Marshal(a.Volumes)
	if err != nil {
		return err
	}
	networks, err := json.Marshal(a.Networks)
	if err != nil {
		return err
	}
	dependsOn, err := json.Marshal(a.DependsOn)
	if err != nil {
		return err
	}
	containerIDs, err := json.Marshal(a.ContainerIDs)
	if err != nil {
		return err
	}
	var healthCheck []byte
	if a.HealthCheck != nil {
		healthCheck, err = json.Marshal(a.HealthCheck)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (
			id, project_id, name, source, source_url, source_branch, dockerfile, build_context,
			image, domain, port, env, volumes, networks, replicas, depends_on, healthcheck,
			status, container_ids, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			project_id = $2, name = $3, source = $4, source_url = $5, source_branch = $6,
			dockerfile = $7, build_context = $8, image = $9, domain = $10, port = $11,
			env = $12, volumes = $13, networks = $14, replicas = $15, depends_on = $16,
			healthcheck = $17, status = $18, container_ids = $19, updated_at = $21
	`, a.ID, a.ProjectID, string(a.Source), a.SourceURL, a.SourceBranch, a.Dockerfile, a.BuildContext,
		a.Image, a.Domain, a.Port, env, volumes, networks, a.Replicas, dependsOn, healthCheck,
		string(a.Status), containerIDs, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetApplication fetches an application by id.
func (s *Store) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM applications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("application", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toApplication()
}

// ListApplications returns every application.
func (s *Store) ListApplications(ctx context.Context) ([]*types.Application, error) {
	var rows []applicationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM applications ORDER BY created_at`); err != nil {
		return nil, err
	}
	return rowsToApplications(rows)
}

// ApplicationsOfProject returns every application belonging to projectID.
func (s *Store) ApplicationsOfProject(ctx context.Context, projectID string) ([]*types.Application, error) {
	var rows []applicationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM applications WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	return rowsToApplications(rows)
}

func rowsToApplications(rows []applicationRow) ([]*types.Application, error) {
	out := make([]*types.Application, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toApplication()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DeleteApplication removes an application and (via ON DELETE CASCADE) its
// deployments.
func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "application", id)
}

// --- Routes ---------------------------------------------------------

type routeRow struct {
	ID           string  `db:"id"`
	Host         string  `db:"host"`
	Path         string  `db:"path"`
	Protocol     string  `db:"protocol"`
	Upstreams    []byte  `db:"upstreams"`
	Middlewares  []byte  `db:"middlewares"`
	LoadBalancer string  `db:"load_balancer"`
	HealthCheck  []byte  `db:"health_check"`
	StripPath    bool    `db:"strip_path"`
	PreserveHost bool    `db:"preserve_host"`
	Enabled      bool    `db:"enabled"`
}

func (r *routeRow) toRoute() (*types.Route, error) {
	route := &types.Route{
		ID:           r.ID,
		Host:         r.Host,
		Path:         r.Path,
		Protocol:     types.Protocol(r.Protocol),
		LoadBalancer: types.LoadBalancer(r.LoadBalancer),
		StripPath:    r.StripPath,
		PreserveHost: r.PreserveHost,
		Enabled:      r.Enabled,
	}
	if len(r.Upstreams) > 0 {
		if err := json.Unmarshal(r.Upstreams, &route.Upstreams); err != nil {
			return nil, fmt.Errorf("decode route upstreams %s: %w", r.ID, err)
		}
	}
	if len(r.Middlewares) > 0 {
		if err := json.Unmarshal(r.Middlewares, &route.Middlewares); err != nil {
			return nil, fmt.Errorf("decode route middlewares %s: %w", r.ID, err)
		}
	}
	if len(r.HealthCheck) > 0 {
		var hc types.HealthCheck
		if err := json.Unmarshal(r.HealthCheck, &hc); err != nil {
			return nil, fmt.Errorf("decode route healthcheck %s: %w", r.ID, err)
		}
		route.HealthCheck = &hc
	}
	return route, nil
}

// UpsertRoute inserts or updates a route by id.
func (s *Store) UpsertRoute(ctx context.Context, r *types.Route) error {
	upstreams, err := json.Marshal(r.Upstreams)
	if err != nil {
		return err
	}
	middlewares, err := json.Marshal(r.Middlewares)
	if err != nil {
		return err
	}
	var healthCheck []byte
	if r.HealthCheck != nil {
		healthCheck, err = json.Marshal(r.HealthCheck)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (id, host, path, protocol, upstreams, middlewares, load_balancer,
			health_check, strip_path, preserve_host, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			host = $2, path = $3, protocol = $4, upstreams = $5, middlewares = $6,
			load_balancer = $7, health_check = $8, strip_path = $9, preserve_host = $10, enabled = $11
	`, r.ID, r.Host, r.Path, string(r.Protocol), upstreams, middlewares, string(r.LoadBalancer),
		healthCheck, r.StripPath, r.PreserveHost, r.Enabled)
	return err
}

// GetRoute fetches a route by id.
func (s *Store) GetRoute(ctx context.Context, id string) (*types.Route, error) {
	var row routeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM routes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("route", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toRoute()
}

// ListRoutes returns every route.
func (s *Store) ListRoutes(ctx context.Context) ([]*types.Route, error) {
	var rows []routeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM routes ORDER BY id`); err != nil {
		return nil, err
	}
	return rowsToRoutes(rows)
}

// RoutesByHost returns every route matching host.
func (s *Store) RoutesByHost(ctx context.Context, host string) ([]*types.Route, error) {
	var rows []routeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM routes WHERE host = $1`, host); err != nil {
		return nil, err
	}
	return rowsToRoutes(rows)
}

func rowsToRoutes(rows []routeRow) ([]*types.Route, error) {
	out := make([]*types.Route, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRoute()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteRoute removes a route by id.
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "route", id)
}

// --- Deployments -------------------------------------------------------

type deploymentRow struct {
	ID           string       `db:"id"`
	AppID        string       `db:"app_id"`
	Version      int          `db:"version"`
	Status       string       `db:"status"`
	Image        string       `db:"image"`
	ContainerIDs []byte       `db:"container_ids"`
	Logs         string       `db:"logs"`
	StartedAt    time.Time    `db:"started_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
}

func (r *deploymentRow) toDeployment() (*types.Deployment, error) {
	d := &types.Deployment{
		ID:        r.ID,
		AppID:     r.AppID,
		Version:   r.Version,
		Status:    types.DeployStatus(r.Status),
		Image:     r.Image,
		Logs:      r.Logs,
		StartedAt: r.StartedAt,
	}
	if len(r.ContainerIDs) > 0 {
		if err := json.Unmarshal(r.ContainerIDs, &d.ContainerIDs); err != nil {
			return nil, fmt.Errorf("decode deployment container_ids %s: %w", r.ID, err)
		}
	}
	if r.FinishedAt.Valid {
		d.FinishedAt = &r.FinishedAt.Time
	}
	return d, nil
}

// InsertDeployment inserts a new, immutable deployment record.
func (s *Store) InsertDeployment(ctx context.Context, d *types.Deployment) error {
	containerIDs, err := json.Marshal(d.ContainerIDs)
	if err != nil {
		return err
	}
	var finishedAt sql.NullTime
	if d.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *d.FinishedAt, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, app_id, version, status, image, container_ids, logs, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.AppID, d.Version, string(d.Status), d.Image, containerIDs, d.Logs, d.StartedAt, finishedAt)
	return err
}

// UpdateDeployment updates the mutable fields of an existing deployment.
func (s *Store) UpdateDeployment(ctx context.Context, d *types.Deployment) error {
	containerIDs, err := json.Marshal(d.ContainerIDs)
	if err != nil {
		return err
	}
	var finishedAt sql.NullTime
	if d.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *d.FinishedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = $2, image = $3, container_ids = $4, logs = $5, finished_at = $6
		WHERE id = $1
	`, d.ID, string(d.Status), d.Image, containerIDs, d.Logs, finishedAt)
	if err != nil {
		return err
	}
	return requireAffected(res, "deployment", d.ID)
}

// LastDeploymentVersion returns the highest version recorded for appID, or
// 0 if none exist.
func (s *Store) LastDeploymentVersion(ctx context.Context, appID string) (int, error) {
	var version sql.NullInt64
	err := s.db.GetContext(ctx, &version,
		`SELECT MAX(version) FROM deployments WHERE app_id = $1`, appID)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// DeploymentsOfApp returns the most recent deployments of appID, newest
// first, limited to limit rows (0 means unlimited).
func (s *Store) DeploymentsOfApp(ctx context.Context, appID string, limit int) ([]*types.Deployment, error) {
	query := `SELECT * FROM deployments WHERE app_id = $1 ORDER BY version DESC`
	args := []any{appID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []deploymentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*types.Deployment, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDeployment()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// --- Git repos -------------------------------------------------------

type gitRepoRow struct {
	ID            string       `db:"id"`
	Provider      string       `db:"provider"`
	URL           string       `db:"url"`
	Branch        string       `db:"branch"`
	ConfigFile    string       `db:"config_file"`
	WebhookSecret string       `db:"webhook_secret"`
	ProjectID     sql.NullString `db:"project_id"`
	LastCommit    string       `db:"last_commit"`
	LastDeployAt  sql.NullTime `db:"last_deploy_at"`
	Enabled       bool         `db:"enabled"`
	CreatedAt     time.Time    `db:"created_at"`
}

func (r *gitRepoRow) toGitRepo() *types.GitRepo {
	g := &types.GitRepo{
		ID:            r.ID,
		Provider:      types.GitProvider(r.Provider),
		URL:           r.URL,
		Branch:        r.Branch,
		ConfigFile:    r.ConfigFile,
		WebhookSecret: r.WebhookSecret,
		ProjectID:     r.ProjectID.String,
		LastCommit:    r.LastCommit,
		Enabled:       r.Enabled,
		CreatedAt:     r.CreatedAt,
	}
	if r.LastDeployAt.Valid {
		g.LastDeployAt = &r.LastDeployAt.Time
	}
	return g
}

// UpsertGitRepo inserts or updates a git repo by id.
func (s *Store) UpsertGitRepo(ctx context.Context, g *types.GitRepo) error {
	var lastDeployAt sql.NullTime
	if g.LastDeployAt != nil {
		lastDeployAt = sql.NullTime{Time: *g.LastDeployAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO git_repos (id, provider, url, branch, config_file, webhook_secret, project_id,
			last_commit, last_deploy_at, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			provider = $2, url = $3, branch = $4, config_file = $5, webhook_secret = $6,
			project_id = $7, last_commit = $8, last_deploy_at = $9, enabled = $10
	`, g.ID, string(g.Provider), g.URL, g.Branch, g.ConfigFile, g.WebhookSecret,
		nullableString(g.ProjectID), g.LastCommit, lastDeployAt, g.Enabled, g.CreatedAt)
	return err
}

// GetGitRepo fetches a git repo by id.
func (s *Store) GetGitRepo(ctx context.Context, id string) (*types.GitRepo, error) {
	var row gitRepoRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM git_repos WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("git repo", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toGitRepo(), nil
}

// GitRepoByURLBranch finds the repo registered for (url, branch).
func (s *Store) GitRepoByURLBranch(ctx context.Context, url, branch string) (*types.GitRepo, error) {
	var row gitRepoRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM git_repos WHERE url = $1 AND branch = $2`, url, branch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("git repo", url+"@"+branch)
	}
	if err != nil {
		return nil, err
	}
	return row.toGitRepo(), nil
}

// ListGitRepos returns every registered repo.
func (s *Store) ListGitRepos(ctx context.Context) ([]*types.GitRepo, error) {
	var rows []gitRepoRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM git_repos ORDER BY created_at`); err != nil {
		return nil, err
	}
	out := make([]*types.GitRepo, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toGitRepo())
	}
	return out, nil
}

// DeleteGitRepo removes a registered repo by id.
func (s *Store) DeleteGitRepo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM git_repos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "git repo", id)
}

// --- Secrets -------------------------------------------------------

type secretRow struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	Name      string    `db:"name"`
	Value     string    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *secretRow) toSecret() *types.Secret {
	return &types.Secret{ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Value: r.Value, CreatedAt: r.CreatedAt}
}

// UpsertSecret inserts or updates a secret by id.
func (s *Store) UpsertSecret(ctx context.Context, secret *types.Secret) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, project_id, name, value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET value = $4
	`, secret.ID, secret.ProjectID, secret.Name, secret.Value, secret.CreatedAt)
	return err
}

// GetSecret fetches a secret by id.
func (s *Store) GetSecret(ctx context.Context, id string) (*types.Secret, error) {
	var row secretRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM secrets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("secret", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toSecret(), nil
}

// SecretsOfProject returns every secret belonging to projectID.
func (s *Store) SecretsOfProject(ctx context.Context, projectID string) ([]*types.Secret, error) {
	var rows []secretRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM secrets WHERE project_id = $1 ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Secret, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSecret())
	}
	return out, nil
}

// DeleteSecret removes a secret by id.
func (s *Store) DeleteSecret(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "secret", id)
}

// --- Certificates -------------------------------------------------------

type certificateRow struct {
	Domain    string    `db:"domain"`
	CertPath  string    `db:"cert_path"`
	KeyPath   string    `db:"key_path"`
	ExpiresAt time.Time `db:"expires_at"`
	AutoRenew bool      `db:"auto_renew"`
}

func (r *certificateRow) toCertificate() *types.Certificate {
	return &types.Certificate{
		Domain:    r.Domain,
		CertPath:  r.CertPath,
		KeyPath:   r.KeyPath,
		ExpiresAt: r.ExpiresAt,
		AutoRenew: r.AutoRenew,
	}
}

// UpsertCertificate inserts or updates a certificate by domain.
func (s *Store) UpsertCertificate(ctx context.Context, c *types.Certificate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (domain, cert_path, key_path, expires_at, auto_renew)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (domain) DO UPDATE SET
			cert_path = $2, key_path = $3, expires_at = $4, auto_renew = $5
	`, c.Domain, c.CertPath, c.KeyPath, c.ExpiresAt, c.AutoRenew)
	return err
}

// GetCertificate fetches a certificate by domain.
func (s *Store) GetCertificate(ctx context.Context, domain string) (*types.Certificate, error) {
	var row certificateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM certificates WHERE domain = $1`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("certificate", domain)
	}
	if err != nil {
		return nil, err
	}
	return row.toCertificate(), nil
}

// ListCertificates returns every certificate.
func (s *Store) ListCertificates(ctx context.Context) ([]*types.Certificate, error) {
	var rows []certificateRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM certificates ORDER BY domain`); err != nil {
		return nil, err
	}
	out := make([]*types.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCertificate())
	}
	return out, nil
}

// ExpiringCertificatesBefore returns certificates whose expires_at is
// strictly before the given timestamp, ordered soonest-first.
func (s *Store) ExpiringCertificatesBefore(ctx context.Context, before time.Time) ([]*types.Certificate, error) {
	var rows []certificateRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM certificates WHERE expires_at < $1 ORDER BY expires_at`, before)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCertificate())
	}
	return out, nil
}

// DeleteCertificate removes a certificate by domain.
func (s *Store) DeleteCertificate(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM certificates WHERE domain = $1`, domain)
	if err != nil {
		return err
	}
	return requireAffected(res, "certificate", domain)
}

// --- Middlewares -------------------------------------------------------

type middlewareRow struct {
	Name   string `db:"name"`
	Type   string `db:"type"`
	Config []byte `db:"config"`
}

func (r *middlewareRow) toMiddleware() (*types.Middleware, error) {
	m := &types.Middleware{Name: r.Name, Type: r.Type}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &m.Config); err != nil {
			return nil, fmt.Errorf("decode middleware config %s: %w", r.Name, err)
		}
	}
	return m, nil
}

// UpsertMiddleware inserts or updates a middleware by name.
func (s *Store) UpsertMiddleware(ctx context.Context, m *types.Middleware) error {
	config, err := json.Marshal(m.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO middlewares (name, type, config) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET type = $2, config = $3
	`, m.Name, m.Type, config)
	return err
}

// GetMiddleware fetches a middleware by name.
func (s *Store) GetMiddleware(ctx context.Context, name string) (*types.Middleware, error) {
	var row middlewareRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM middlewares WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("middleware", name)
	}
	if err != nil {
		return nil, err
	}
	return row.toMiddleware()
}

// ListMiddlewares returns every middleware.
func (s *Store) ListMiddlewares(ctx context.Context) ([]*types.Middleware, error) {
	var rows []middlewareRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM middlewares ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]*types.Middleware, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toMiddleware()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteMiddleware removes a middleware by name.
func (s *Store) DeleteMiddleware(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM middlewares WHERE name = $1`, name)
	if err != nil {
		return err
	}
	return requireAffected(res, "middleware", name)
}

// --- helpers -------------------------------------------------------

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
