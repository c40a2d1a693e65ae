/*
Package health probes the liveness of a Route's upstreams and keeps their
Healthy flag in the registry's routing table current.

Monitor runs a 5-second sync loop (grounded on the same sync-to-current-
state idiom a container-task health monitor would use) that diffs the
set of enabled Routes with a HealthCheck against the checkers it already
has running: new upstreams get a checker goroutine, upstreams that
disappeared or whose Route was disabled get theirs cancelled. Each
checker goroutine runs on its own ticker at the Route's configured
Interval, independent of the sync loop.

Two checker types exist, selected by HealthCheck.Type:

  - http: HTTPChecker GETs HealthCheck.Path (default "/") against the
    upstream. Any response under 500 counts as healthy — a 404 still
    means the process is alive and answering.
  - tcp: TCPChecker just dials the upstream's address:port.

A Status tracks consecutive successes/failures per upstream and only
flips Healthy after UnhealthyThreshold consecutive failures, to avoid
flapping routes out on a single dropped probe. On a flip, Monitor
re-reads the Route, updates the matching Upstream's Healthy field, and
writes it back through Registry.SetRoute.

This is a liveness prober, not a deploy gate: the deploy engine's own
health-check step (internal/deploy) blocks a rollout until every new
replica passes its declared check in the same round, or 60 seconds
elapse, before cutover. This package instead runs
continuously against whatever is currently routable, so an upstream
that goes bad after a successful deploy gets pulled out of rotation.
*/
package health
