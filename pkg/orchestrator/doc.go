/*
Package orchestrator is the control flow tying the components together:
task intake, the priority dispatch loop, worker control, and result and
failure reporting.

Submit evaluates placement before any state is created, so a
backpressured task is refused outright rather than parked. Admitted tasks
walk pending, queued, and on assignment assigned then running. The
dispatch loop drains the queue urgent-first, FIFO within a band, and
stops at the first task the pool cannot place.

A reported failure frees the worker, saves a failure snapshot, and moves
the task to failed; retryable tasks re-enter the queue after the
supervisor's backoff. Reports arriving after cancellation are discarded.
Reports carrying a decision accumulate as pleadings until the quorum is
reached, then the arbitration verdict completes or fails the task.
*/
package orchestrator
