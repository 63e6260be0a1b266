// Package api exposes the control plane over HTTP/JSON: task submission,
// status and cancellation, worker registration and health, and result and
// failure reporting, plus /healthz and /metrics. Errors map onto statuses
// by taxonomy; backpressure surfaces as 429 with Retry-After.
package api
