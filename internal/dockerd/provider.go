// Package dockerd talks to the local Docker daemon: the Provider discovers
// routable containers via labels and mirrors them into the registry, and
// the Manager is the operational façade over networks and containers used
// by the REST API.
package dockerd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"

	"github.com/wku/velox-orchestrator/internal/eventbus"
	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/types"
)

// routerLabel is one {prop: value} group parsed from
// "{prefix}http.routers.<router>.<prop>=<value>" labels.
type routerLabel map[string]string

// Provider watches the Docker event stream and keeps the registry's
// ephemeral container mirror and Route table in sync with labeled
// containers.
type Provider struct {
	client       *dockerclient.Client
	reg          *registry.Registry
	bus          *eventbus.Bus
	labelPrefix  string
	proxyNetwork string

	cancel context.CancelFunc
}

// NewProvider connects to the Docker daemon at socketPath (empty uses
// DOCKER_HOST / the default socket via FromEnv).
func NewProvider(socketPath string, reg *registry.Registry, bus *eventbus.Bus, labelPrefix, proxyNetwork string) (*Provider, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+socketPath))
	} else {
		opts = append(opts, dockerclient.FromEnv)
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}
	return &Provider{
		client:       cli,
		reg:          reg,
		bus:          bus,
		labelPrefix:  labelPrefix,
		proxyNetwork: proxyNetwork,
	}, nil
}

// Start performs the initial container sync, then launches the long-lived
// event-stream watch loop in a goroutine.
func (p *Provider) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.syncAll(watchCtx); err != nil {
		log.Logger.Warn().Err(err).Msg("initial container sync failed")
	}
	go p.watchEvents(watchCtx)
	log.Logger.Info().Msg("docker provider started")
	return nil
}

// Stop cancels the event watch loop and closes the client.
func (p *Provider) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	return p.client.Close()
}

func (p *Provider) syncAll(ctx context.Context) error {
	containers, err := p.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}
	for _, c := range containers {
		if err := p.processContainer(ctx, c.ID, "start"); err != nil {
			log.Logger.Warn().Err(err).Str("container_id", shortID(c.ID)).Msg("skipping container during sync")
		}
	}
	log.Logger.Info().Int("count", len(containers)).Msg("synced containers")
	return nil
}

func (p *Provider) watchEvents(ctx context.Context) {
	f := filters.NewArgs()
	f.Add("type", string(events.ContainerEventType))

	for {
		if ctx.Err() != nil {
			return
		}
		eventCh, errCh := p.client.Events(ctx, events.ListOptions{Filters: f})
		if err := p.drain(ctx, eventCh, errCh); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Logger.Error().Err(err).Msg("docker event stream error, resubscribing")
			time.Sleep(time.Second)
		}
	}
}

func (p *Provider) drain(ctx context.Context, eventCh <-chan events.Message, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case ev := <-eventCh:
			p.handleEvent(ctx, ev)
		}
	}
}

func (p *Provider) handleEvent(ctx context.Context, ev events.Message) {
	switch ev.Action {
	case events.ActionStart:
		if err := p.processContainer(ctx, ev.Actor.ID, "start"); err != nil {
			log.Logger.Warn().Err(err).Str("container_id", shortID(ev.Actor.ID)).Msg("container get failed")
		}
	case events.ActionStop, events.ActionDie, events.ActionKill:
		p.removeContainerRoutes(ctx, shortID(ev.Actor.ID))
	}
}

func (p *Provider) processContainer(ctx context.Context, id, action string) error {
	info, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", shortID(id), err)
	}

	id12 := shortID(info.ID)
	labels := info.Config.Labels

	if action != "start" {
		p.removeContainerRoutes(ctx, id12)
		return nil
	}

	networks := make(map[string]string)
	for name, net := range info.NetworkSettings.Networks {
		if net.IPAddress != "" {
			networks[name] = net.IPAddress
		}
	}

	dc := &types.DockerContainer{
		ID:        id12,
		Name:      strings.TrimPrefix(info.Name, "/"),
		Image:     info.Config.Image,
		State:     info.State.Status,
		Labels:    labels,
		Networks:  networks,
		CreatedAt: time.Now(),
	}
	p.reg.SetContainer(dc)

	if labels[p.labelPrefix+"enable"] != "true" {
		return nil
	}

	routes := p.parseLabels(labels, id12, networks)
	for _, r := range routes {
		if err := p.reg.SetRoute(ctx, r); err != nil {
			log.Logger.Error().Err(err).Str("route_id", r.ID).Msg("failed to set route from container labels")
		}
	}
	p.bus.Emit(ctx, eventbus.EventRoutesUpdated, map[string]any{"container_id": id12, "routes": len(routes)})
	return nil
}

func (p *Provider) parseLabels(labels map[string]string, containerID string, networks map[string]string) []*types.Route {
	if len(networks) == 0 {
		log.Logger.Warn().Str("container_id", containerID).Msg("container has no ip address")
		return nil
	}

	ip := networks[p.proxyNetwork]
	if ip == "" {
		for _, addr := range networks {
			ip = addr
			break
		}
	}

	prefix := p.labelPrefix + "http.routers."
	routers := make(map[string]routerLabel)
	for key, value := range labels {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) < 2 {
			continue
		}
		routerName, prop := parts[0], parts[1]
		if routers[routerName] == nil {
			routers[routerName] = routerLabel{}
		}
		routers[routerName][prop] = value
	}

	var routes []*types.Route
	for routerName, props := range routers {
		host := strings.Trim(strings.TrimSpace(props["host"]), "`")
		if host == "" {
			continue
		}
		port := 80
		if v := props["port"]; v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				port = n
			}
		}
		path := props["path"]
		if path == "" {
			path = "/"
		}
		protocol := types.ProtocolHTTP
		if strings.EqualFold(props["tls"], "true") {
			protocol = types.ProtocolHTTPS
		}
		var middlewares []string
		if raw := props["middlewares"]; raw != "" {
			for _, m := range strings.Split(raw, ",") {
				if m = strings.TrimSpace(m); m != "" {
					middlewares = append(middlewares, m)
				}
			}
		}
		preserveHost := true
		if v, ok := props["preserve_host"]; ok {
			preserveHost = strings.EqualFold(v, "true")
		}

		route := &types.Route{
			ID:       containerID + "-" + routerName,
			Host:     host,
			Path:     path,
			Protocol: protocol,
			Upstreams: []types.Upstream{
				{Address: ip, Port: port, Weight: 1, Healthy: true, ContainerID: containerID},
			},
			Middlewares:  middlewares,
			LoadBalancer: types.LoadBalancerRoundRobin,
			StripPath:    strings.EqualFold(props["strip_path"], "true"),
			PreserveHost: preserveHost,
			Enabled:      true,
		}
		routes = append(routes, route)
		log.Logger.Info().Str("host", route.Host).Str("path", route.Path).Str("upstream", fmt.Sprintf("%s:%d", ip, port)).Msg("route parsed")
	}
	return routes
}

func (p *Provider) removeContainerRoutes(ctx context.Context, containerID string) {
	routes, err := p.reg.ListRoutes(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to list routes for container cleanup")
		return
	}
	prefix := containerID + "-"
	for _, r := range routes {
		if strings.HasPrefix(r.ID, prefix) {
			if err := p.reg.DeleteRoute(ctx, r); err != nil {
				log.Logger.Error().Err(err).Str("route_id", r.ID).Msg("failed to delete route on container stop")
			}
		}
	}
	p.reg.RemoveContainer(containerID)
	p.bus.Emit(ctx, eventbus.EventRoutesUpdated, map[string]any{"container_id": containerID, "removed": true})
}

func shortID(id string) string {
	return ShortID(id)
}

// ShortID truncates a Docker-assigned id to its conventional 12-hex-char
// display form. Exported for callers outside this package (the deploy
// engine labels containers it creates itself, before any event fires).
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
