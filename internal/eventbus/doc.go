// Package eventbus wires a Bus into the registry, deploy engine, and
// webhook handler so side effects (cache invalidation, logging, future
// notifications) can hang off webhook_received, routes_updated, and
// deploy_completed without those components importing each other.
package eventbus
