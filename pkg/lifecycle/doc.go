/*
Package lifecycle implements the task state machine.

Every task moves through pending, queued, assigned, running, suspended and
into one of the terminal states completed, failed or cancelled. The state
machine validates each transition against a fixed table, appends it to the
task's log, and publishes task.transitioned plus a state-specific event
after the state is committed. The transition log is the source of truth:
an event that fails to deliver never rolls back a transition, and an
illegal transition is rejected before anything is recorded.

Within a single task, transitions are totally ordered. Across tasks no
ordering is guaranteed.
*/
package lifecycle
