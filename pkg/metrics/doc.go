/*
Package metrics defines Drover's Prometheus instrumentation.

Gauges track live population (tasks by state, workers by health,
backpressure), counters track flow (submissions, scheduling decisions,
retries, arbitrations, snapshot saves and expiries), and histograms track
latency. All collectors are registered at init; Handler exposes them for
the /metrics endpoint.
*/
package metrics
