// See client.go for the HTTP-01 order/authorize/finalize flow and
// RenewExpiring for the renewal sweep, scheduled hourly via robfig/cron.
package acme
