package dockerd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockernetwork "github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"

	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/types"
)

// Manager is the operational façade over the Docker daemon used by the
// REST API: list/get/create/delete networks, connect/disconnect
// containers, start/stop/restart containers, log tailing. Network
// create/delete and connect/disconnect refresh the registry's ephemeral
// network mirror, and RemoveContainer drops the container's mirror;
// start, stop and restart leave both mirrors unchanged.
type Manager struct {
	client *dockerclient.Client
	reg    *registry.Registry
}

// NewManager connects to the Docker daemon at socketPath (empty uses
// DOCKER_HOST / the default socket via FromEnv).
func NewManager(socketPath string, reg *registry.Registry) (*Manager, error) {
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
	return &Manager{client: cli, reg: reg}, nil
}

// Close releases the underlying client.
func (m *Manager) Close() error {
	return m.client.Close()
}

// Ping checks the Docker daemon is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	_, err := m.client.Ping(ctx)
	return err
}

// SyncNetworks lists every network known to the daemon and refreshes the
// registry's in-memory mirror.
func (m *Manager) SyncNetworks(ctx context.Context) error {
	nets, err := m.client.NetworkList(ctx, dockernetwork.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	for _, n := range nets {
		info, err := m.client.NetworkInspect(ctx, n.ID, dockernetwork.InspectOptions{})
		if err != nil {
			continue
		}
		m.storeNetwork(info)
	}
	log.Logger.Info().Msg("docker manager started")
	return nil
}

func (m *Manager) storeNetwork(info dockernetwork.Inspect) *types.DockerNetwork {
	var subnet, gateway string
	if len(info.IPAM.Config) > 0 {
		subnet = info.IPAM.Config[0].Subnet
		gateway = info.IPAM.Config[0].Gateway
	}
	n := &types.DockerNetwork{
		ID:        shortID(info.ID),
		Name:      info.Name,
		Driver:    info.Driver,
		Subnet:    subnet,
		Gateway:   gateway,
		Internal:  info.Internal,
		CreatedAt: info.Created,
	}
	m.reg.SetNetwork(n)
	return n
}

// ListNetworks returns the registry's mirrored networks.
func (m *Manager) ListNetworks() []*types.DockerNetwork {
	return m.reg.ListNetworks()
}

// CreateNetwork creates a network with the given configuration and refreshes
// the registry's mirror.
func (m *Manager) CreateNetwork(ctx context.Context, name, driver, subnet, gateway string, internal bool) (*types.DockerNetwork, error) {
	cfg := dockernetwork.CreateOptions{Driver: driver, Internal: internal}
	if driver == "" {
		cfg.Driver = "bridge"
	}
	if subnet != "" {
		ipamConfig := dockernetwork.IPAMConfig{Subnet: subnet}
		if gateway != "" {
			ipamConfig.Gateway = gateway
		}
		cfg.IPAM = &dockernetwork.IPAM{Config: []dockernetwork.IPAMConfig{ipamConfig}}
	}

	created, err := m.client.NetworkCreate(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating network %s: %w", name, err)
	}
	info, err := m.client.NetworkInspect(ctx, created.ID, dockernetwork.InspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("inspecting created network %s: %w", name, err)
	}
	result := m.storeNetwork(info)
	log.Logger.Info().Str("network", name).Msg("network created")
	return result, nil
}

// DeleteNetwork removes a network and its registry mirror.
func (m *Manager) DeleteNetwork(ctx context.Context, networkID string) error {
	if err := m.client.NetworkRemove(ctx, networkID); err != nil {
		return fmt.Errorf("removing network %s: %w", networkID, err)
	}
	m.reg.RemoveNetwork(shortID(networkID))
	log.Logger.Info().Str("network", networkID).Msg("network deleted")
	return nil
}

// ConnectContainer attaches containerID to networkID and refreshes the
// network mirror.
func (m *Manager) ConnectContainer(ctx context.Context, networkID, containerID string) error {
	if err := m.client.NetworkConnect(ctx, networkID, containerID, nil); err != nil {
		return fmt.Errorf("connecting %s to %s: %w", shortID(containerID), networkID, err)
	}
	if info, err := m.client.NetworkInspect(ctx, networkID, dockernetwork.InspectOptions{}); err == nil {
		m.storeNetwork(info)
	}
	log.Logger.Info().Str("container_id", shortID(containerID)).Str("network", networkID).Msg("container connected")
	return nil
}

// DisconnectContainer detaches containerID from networkID and refreshes the
// network mirror.
func (m *Manager) DisconnectContainer(ctx context.Context, networkID, containerID string) error {
	if err := m.client.NetworkDisconnect(ctx, networkID, containerID, false); err != nil {
		return fmt.Errorf("disconnecting %s from %s: %w", shortID(containerID), networkID, err)
	}
	if info, err := m.client.NetworkInspect(ctx, networkID, dockernetwork.InspectOptions{}); err == nil {
		m.storeNetwork(info)
	}
	log.Logger.Info().Str("container_id", shortID(containerID)).Str("network", networkID).Msg("container disconnected")
	return nil
}

// ListContainers returns the registry's mirrored containers.
func (m *Manager) ListContainers(ctx context.Context) ([]*types.DockerContainer, error) {
	return m.reg.ListContainers(ctx)
}

// GetContainer returns a container's mirror, if present.
func (m *Manager) GetContainer(containerID string) (*types.DockerContainer, bool) {
	return m.reg.GetContainer(containerID)
}

// StartContainer starts an existing container.
func (m *Manager) StartContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStart(ctx, containerID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", shortID(containerID), err)
	}
	log.Logger.Info().Str("container_id", shortID(containerID)).Msg("container started")
	return nil
}

// StopContainer stops a running container, giving it timeout to shut down
// gracefully before SIGKILL.
func (m *Manager) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := m.client.ContainerStop(ctx, containerID, dockercontainer.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("stopping container %s: %w", shortID(containerID), err)
	}
	log.Logger.Info().Str("container_id", shortID(containerID)).Msg("container stopped")
	return nil
}

// RestartContainer restarts a container.
func (m *Manager) RestartContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := m.client.ContainerRestart(ctx, containerID, dockercontainer.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("restarting container %s: %w", shortID(containerID), err)
	}
	log.Logger.Info().Str("container_id", shortID(containerID)).Msg("container restarted")
	return nil
}

// RemoveContainer force-removes a container and drops its registry mirror.
func (m *Manager) RemoveContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container %s: %w", shortID(containerID), err)
	}
	m.reg.RemoveContainer(shortID(containerID))
	log.Logger.Info().Str("container_id", shortID(containerID)).Msg("container removed")
	return nil
}

// ContainerLogs returns up to tail lines of combined stdout/stderr.
func (m *Manager) ContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	rc, err := m.client.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return "", fmt.Errorf("getting logs for %s: %w", shortID(containerID), err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading logs for %s: %w", shortID(containerID), err)
	}
	return stripDockerLogHeaders(body), nil
}

// StripDockerLogHeaders removes the 8-byte multiplexed stream headers the
// daemon prefixes to each frame when a container was created without a tty.
// Exported so the deploy engine can apply it to build/run/exec output too.
func StripDockerLogHeaders(raw []byte) string {
	return stripDockerLogHeaders(raw)
}

func stripDockerLogHeaders(raw []byte) string {
	var sb strings.Builder
	for len(raw) >= 8 {
		frameLen := int(raw[4])<<24 | int(raw[5])<<16 | int(raw[6])<<8 | int(raw[7])
		raw = raw[8:]
		if frameLen > len(raw) {
			frameLen = len(raw)
		}
		sb.Write(raw[:frameLen])
		raw = raw[frameLen:]
	}
	sb.Write(raw)
	return sb.String()
}
