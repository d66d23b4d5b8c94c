// Package metrics exposes vendorsync Prometheus collectors: vendor request
// counts and latency, capability-push retries, push channel phase and
// reconnects, measurements written and change traffic.
package metrics
