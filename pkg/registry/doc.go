/*
Package registry implements the worker capability registry.

The registry is the authoritative view of the fleet: each worker carries a
capability map, a health status (healthy, degraded, unhealthy), a
saturation ratio in [0,1], and a last-heartbeat timestamp. The scheduler
queries it for workers satisfying a capability set under saturation and
health constraints; results are ordered by ascending saturation with
heartbeat recency and worker id as tiebreaks so selection is
deterministic.

A background loop evicts workers whose heartbeat has gone stale. When a
store is configured, worker rows are written through on every change and
reloaded at startup; persistence failures are logged and never block the
in-memory registry.
*/
package registry
