// Package log wraps zerolog with a global logger and a handful of
// context-logger helpers (WithProjectID, WithAppID, WithDeployID,
// WithRouteID, WithContainerID) used to tag log lines with the entity a
// background loop or request handler is currently acting on.
//
// Call Init once at startup:
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
package log
