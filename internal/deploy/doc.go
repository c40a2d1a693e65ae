// Package deploy implements the Deployment Engine: the state machine that
// turns a Project's manifests into running, routed containers.
//
// # Flow
//
// DeployFromRepo clones a GitRepo and parses its deploy.yaml and
// docker-compose.yml (CloneAndParseConfig, config.go). BuildApplications
// plans one Application per compose service, merging in deploy.yaml's
// domain/port/replica metadata and rewriting depends_on into fully
// qualified application ids. resolveDeployOrder topologically sorts the
// batch so dependencies start first, failing with apierr.InvalidDependency
// on a cycle.
//
// Deploy then runs each Application through a per-version rollout
// (rollout.go):
//
//	building   -> buildOrPull resolves an image, from git or a registry pull
//	deploying  -> runContainers starts the new replica set alongside the old
//	(gate)     -> waitForHealthy probes the new replicas before cutover
//	running    -> Application.ContainerIDs swings to the new set, a Route
//	              is published, and the old replicas are retired
//
// A failure at any step marks the Deployment and Application failed,
// captures the new containers' trailing logs, and retires whatever
// partially started without touching the previous running replicas or
// any existing Route. A bad deploy never takes down what was already
// serving traffic.
//
// Every app-mutating operation (Deploy, Rollback, StopApp, RemoveApp) is
// serialized through a per-application mutex, so a webhook-triggered
// redeploy can never interleave with a manual rollback of the same app.
// Stop cancels every in-flight deploy's context; already-started
// containers are left running since tearing them down mid-rollout would
// be worse than a redeploy simply finishing.
package deploy
