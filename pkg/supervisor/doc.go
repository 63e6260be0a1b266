/*
Package supervisor implements the worker pool supervisor, the scheduling
heart of the control plane.

Given a task's capability requirement and the current queue depth, the
supervisor returns exactly one decision: assign to a specific idle worker,
queue, or backpressure. Saturation is computed fresh on every call as
busy / max(total, maxWorkers). Backpressure activates when saturation or
queue depth crosses its threshold and clears on the next assignment; the
cooldown is advisory, honored by callers rather than enforced here.

On a recorded failure the worker returns to idle, the task's attempt
counter advances, and the retry plan follows an exponential backoff of
min(base * 2^(attempt-1), max) capped at maxAttempts. The supervisor never
declares failure on its own; heartbeat loss is detected by the registry
and reported by the caller.
*/
package supervisor
