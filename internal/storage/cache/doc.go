// See cache.go for the key layout: routes:{id}, routes:index:host:{host},
// routes:index:enabled, upstreams:{route_id}, upstreams:health:{route_id}:{addr}:{port},
// certs:{domain}, certs:index:expiring, acme:challenge:{token}, config:version.
package cache
