package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/ingress"
	"github.com/wku/velox-orchestrator/internal/types"
)

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.reg.ListRoutes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.requireRoute(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type upstreamRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Weight  int    `json:"weight"`
}

type healthCheckRequest struct {
	Type     types.HealthCheckType `json:"type"`
	Path     string                `json:"path"`
	Interval int                   `json:"interval"`
	Timeout  int                   `json:"timeout"`
}

type routeCreateRequest struct {
	ID           string                `json:"id"`
	Host         string                `json:"host"`
	Path         string                `json:"path"`
	Protocol     types.Protocol        `json:"protocol"`
	Upstreams    []upstreamRequest     `json:"upstreams"`
	Middlewares  []string              `json:"middlewares"`
	LoadBalancer types.LoadBalancer    `json:"load_balancer"`
	HealthCheck  *healthCheckRequest   `json:"health_check"`
	StripPath    bool                  `json:"strip_path"`
}

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
	var req routeCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("manual-%s", uuid.NewString()[:8])
	}
	route := &types.Route{
		ID:           id,
		Host:         req.Host,
		Path:         req.Path,
		Protocol:     req.Protocol,
		Upstreams:    toUpstreams(req.Upstreams),
		Middlewares:  req.Middlewares,
		LoadBalancer: req.LoadBalancer,
		HealthCheck:  toHealthCheck(req.HealthCheck),
		StripPath:    req.StripPath,
		Enabled:      true,
	}
	if err := s.reg.SetRoute(r.Context(), route); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type routeUpdateRequest struct {
	Host         *string             `json:"host"`
	Path         *string             `json:"path"`
	Protocol     *types.Protocol     `json:"protocol"`
	Upstreams    []upstreamRequest   `json:"upstreams"`
	Middlewares  []string            `json:"middlewares"`
	LoadBalancer *types.LoadBalancer `json:"load_balancer"`
	Enabled      *bool               `json:"enabled"`
}

func (s *Server) updateRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.requireRoute(w, r)
	if err != nil {
		return
	}
	var req routeUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Host != nil {
		route.Host = *req.Host
	}
	if req.Path != nil {
		route.Path = *req.Path
	}
	if req.Protocol != nil {
		route.Protocol = *req.Protocol
	}
	if req.Upstreams != nil {
		route.Upstreams = toUpstreams(req.Upstreams)
	}
	if req.Middlewares != nil {
		route.Middlewares = req.Middlewares
	}
	if req.LoadBalancer != nil {
		route.LoadBalancer = *req.LoadBalancer
	}
	if req.Enabled != nil {
		route.Enabled = *req.Enabled
	}
	if err := s.reg.SetRoute(r.Context(), route); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) deleteRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.requireRoute(w, r)
	if err != nil {
		return
	}
	if err := s.reg.DeleteRoute(r.Context(), route); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, "deleted")
}

type resolveRouteResponse struct {
	Route    *types.Route    `json:"route"`
	Upstream *types.Upstream `json:"upstream,omitempty"`
}

// resolveRoute runs the same host/path matching and load-balancer
// selection the data-plane proxy performs, against the routing table as
// it stands right now. Useful for debugging a Route before wiring a
// domain at a DNS provider.
func (s *Server) resolveRoute(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	if host == "" {
		writeError(w, apierr.New(apierr.InvalidInput, "host query parameter required"))
		return
	}

	routes, err := s.reg.ListRoutes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	router := ingress.NewRouter(routes)
	matched := router.Match(host, path)
	if matched == nil {
		writeJSON(w, http.StatusOK, resolveRouteResponse{})
		return
	}

	resp := resolveRouteResponse{Route: matched}
	if up, ok := router.NextUpstream(matched, clientIPOf(r)); ok {
		resp.Upstream = &up
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireRoute(w http.ResponseWriter, r *http.Request) (*types.Route, error) {
	id := chi.URLParam(r, "routeID")
	route, err := s.reg.GetRoute(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, err
	}
	return route, nil
}

func toUpstreams(reqs []upstreamRequest) []types.Upstream {
	upstreams := make([]types.Upstream, len(reqs))
	for i, u := range reqs {
		upstreams[i] = types.Upstream{Address: u.Address, Port: u.Port, Weight: u.Weight}
	}
	return upstreams
}

func toHealthCheck(req *healthCheckRequest) *types.HealthCheck {
	if req == nil {
		return nil
	}
	return &types.HealthCheck{
		Type:     req.Type,
		Path:     req.Path,
		Interval: req.Interval,
		Timeout:  req.Timeout,
	}
}
