// Package prometheus renders tab metrics in Prometheus text exposition
// format.
//
// Counters are named tabauth_*_total and the one histogram is
// tabauth_autologin_latency_seconds. Nothing is registered globally: mount
// Exporter.Handler where it is needed.
package prometheus
