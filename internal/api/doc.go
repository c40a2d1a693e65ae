// Package api implements the REST surface under /api/v1: CRUD over
// projects, applications, routes, networks, containers, certificates,
// middlewares, git repos and secrets, plus the actions that drive the
// deploy engine (deploy, stop, rollback) and webhook intake.
//
// Every handler is a thin adapter: decode the request, call into
// internal/registry, internal/deploy, internal/dockerd, internal/acme or
// internal/webhook, and translate the result (or the returned *apierr.Error)
// into a JSON response. No domain logic lives here.
//
// Authentication is a single operator account: POST /api/v1/auth/login
// checks AUTH_USER/AUTH_PASSWORD and issues an HS256 bearer token signed
// with SECRET_KEY, which every other /api/v1 route (save login, webhook
// intake, /health and /stats) requires via the requireAuth middleware.
package api
