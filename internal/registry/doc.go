// Package registry composes the durable store and hot cache into the
// control plane's single source of truth, plus the in-memory mirrors of
// Docker networks and containers that are rebuilt from the runtime on
// every restart. See SetRoute and DeleteRoute for the write protocol.
package registry
