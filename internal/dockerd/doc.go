// Package dockerd wraps the Docker client for container discovery and
// runtime operations. Provider (provider.go) discovers routable containers
// from labels; Manager (manager.go) is the operational façade the REST API
// calls to start, stop, and inspect containers and networks. The deploy
// engine (internal/deploy) holds its own Docker client instead of using
// Manager.
package dockerd
