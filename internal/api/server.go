package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wku/velox-orchestrator/internal/acme"
	"github.com/wku/velox-orchestrator/internal/config"
	"github.com/wku/velox-orchestrator/internal/deploy"
	"github.com/wku/velox-orchestrator/internal/dockerd"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/metrics"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/webhook"
)

// Server is the REST surface documented under /api/v1: CRUD over the
// control-plane entities, deploy/rollback/stop actions that delegate to
// the deploy engine, webhook intake, and process-level stats/health.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux

	reg     *registry.Registry
	docker  *dockerd.Manager
	engine  *deploy.Engine
	acme    *acme.Client
	webhook *webhook.Handler
	cfg     *config.Config
	limiter *rateLimiter
}

// NewServer wires the chi router and every handler group against already
// constructed dependencies.
func NewServer(cfg *config.Config, reg *registry.Registry, docker *dockerd.Manager, engine *deploy.Engine, acmeClient *acme.Client, wh *webhook.Handler) *Server {
	s := &Server{
		reg:     reg,
		docker:  docker,
		engine:  engine,
		acme:    acmeClient,
		webhook: wh,
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(s.limiter.middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/webhook/github", s.handleWebhookGitHub)
		api.Post("/webhook/gitlab", s.handleWebhookGitLab)
		api.Post("/webhook/gitea", s.handleWebhookGitea)
		api.Get("/stats", s.handleStats)
		api.Get("/health", s.handleHealth)

		api.Post("/auth/login", s.handleLogin)

		api.Group(func(protected chi.Router) {
			protected.Use(s.requireAuth)

			protected.Get("/auth/me", s.handleMe)

			protected.Route("/projects", func(p chi.Router) {
				p.Get("/", s.listProjects)
				p.Post("/", s.createProject)
				p.Get("/{projectID}", s.getProject)
				p.Put("/{projectID}", s.updateProject)
				p.Delete("/{projectID}", s.deleteProject)
				p.Get("/{projectID}/applications", s.getProjectApplications)
				p.Post("/{projectID}/deploy", s.deployProject)
				p.Post("/{projectID}/restart", s.restartProject)
			})

			protected.Route("/applications", func(a chi.Router) {
				a.Get("/", s.listApplications)
				a.Post("/", s.createApplication)
				a.Get("/{appID}", s.getApplication)
				a.Put("/{appID}", s.updateApplication)
				a.Delete("/{appID}", s.deleteApplication)
				a.Post("/{appID}/deploy", s.deployApplication)
				a.Post("/{appID}/stop", s.stopApplication)
				a.Post("/{appID}/rollback", s.rollbackApplication)
				a.Get("/{appID}/deployments", s.getDeployments)
				a.Get("/{appID}/logs", s.getApplicationLogs)
				a.Get("/{appID}/deploy-logs", s.getDeployLogs)
			})

			protected.Route("/routes", func(rt chi.Router) {
				rt.Get("/", s.listRoutes)
				rt.Post("/", s.createRoute)
				rt.Get("/resolve", s.resolveRoute)
				rt.Get("/{routeID}", s.getRoute)
				rt.Put("/{routeID}", s.updateRoute)
				rt.Delete("/{routeID}", s.deleteRoute)
			})

			protected.Route("/networks", func(n chi.Router) {
				n.Get("/", s.listNetworks)
				n.Post("/", s.createNetwork)
				n.Get("/{networkID}", s.getNetwork)
				n.Delete("/{networkID}", s.deleteNetwork)
				n.Post("/{networkID}/connect/{containerID}", s.connectContainer)
				n.Post("/{networkID}/disconnect/{containerID}", s.disconnectContainer)
			})

			protected.Route("/containers", func(c chi.Router) {
				c.Get("/", s.listContainers)
				c.Get("/{containerID}", s.getContainer)
				c.Post("/{containerID}/start", s.startContainer)
				c.Post("/{containerID}/stop", s.stopContainer)
				c.Post("/{containerID}/restart", s.restartContainer)
				c.Get("/{containerID}/logs", s.getContainerLogs)
			})

			protected.Route("/certificates", func(c chi.Router) {
				c.Get("/", s.listCertificates)
				c.Get("/{domain}", s.getCertificate)
				c.Post("/", s.requestCertificate)
			})

			protected.Route("/middlewares", func(m chi.Router) {
				m.Get("/{name}", s.getMiddleware)
				m.Post("/", s.createMiddleware)
			})

			protected.Route("/repos", func(rp chi.Router) {
				rp.Get("/", s.listRepos)
				rp.Post("/", s.createRepo)
				rp.Get("/{repoID}", s.getRepo)
				rp.Put("/{repoID}", s.updateRepo)
				rp.Delete("/{repoID}", s.deleteRepo)
				rp.Post("/{repoID}/deploy", s.deployRepo)
			})

			protected.Route("/secrets", func(sec chi.Router) {
				sec.Get("/{projectID}", s.listSecrets)
				sec.Post("/", s.createSecret)
				sec.Delete("/{projectID}/{name}", s.deleteSecret)
			})

			protected.Route("/deploy", func(d chi.Router) {
				d.Post("/yaml", s.deployYAML)
				d.Post("/local", s.deployLocal)
			})

			protected.Route("/system", func(sy chi.Router) {
				sy.Get("/info", s.systemInfo)
				sy.Post("/restart", s.systemRestart)
			})
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the REST API until the server is shut down.
func (s *Server) ListenAndServe() error {
	log.Logger.Info().Str("addr", s.httpServer.Addr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to timeout for
// in-flight requests to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)

		log.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", duration).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request")

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
	})
}

// handleHealth reports liveness: the process is up and serving. It never
// depends on downstream components, so a flaky database doesn't trip a
// supervisor's liveness probe into restarting an otherwise-fine process.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.HealthHandler().ServeHTTP(w, r)
}

// handleReady pings every downstream dependency and reports readiness
// through the same component aggregator /health reports against, so a
// load balancer can pull the instance out of rotation without killing it.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Ping(r.Context()); err != nil {
		metrics.UpdateComponent("postgres", false, err.Error())
		metrics.UpdateComponent("redis", false, err.Error())
	} else {
		metrics.UpdateComponent("postgres", true, "")
		metrics.UpdateComponent("redis", true, "")
	}
	if err := s.docker.Ping(r.Context()); err != nil {
		metrics.UpdateComponent("docker", false, err.Error())
	} else {
		metrics.UpdateComponent("docker", true, "")
	}
	metrics.ReadyHandler().ServeHTTP(w, r)
}

type statsResponse struct {
	Routes       int `json:"routes"`
	Certificates int `json:"certificates"`
	Containers   int `json:"containers"`
	Networks     int `json:"networks"`
	Projects     int `json:"projects"`
	Applications int `json:"applications"`
	Repos        int `json:"repos"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	routes, err := s.reg.ListRoutes(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	certs, err := s.reg.ListCertificates(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	projects, err := s.reg.ListProjects(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	apps, err := s.reg.ListApplications(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	repos, err := s.reg.ListGitRepos(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	containers, err := s.reg.ListContainers(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Routes:       len(routes),
		Certificates: len(certs),
		Containers:   len(containers),
		Networks:     len(s.reg.ListNetworks()),
		Projects:     len(projects),
		Applications: len(apps),
		Repos:        len(repos),
	})
}

type systemInfoResponse struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
}

func (s *Server) systemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, systemInfoResponse{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	})
}

// systemRestart exits the process after the response flushes; the
// supervising container runtime is expected to restart it.
func (s *Server) systemRestart(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, "restarting")
	go func() {
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}()
}
