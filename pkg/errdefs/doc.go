/*
Package errdefs defines the error taxonomy shared by all Drover components.

Errors fall into four kinds: validation (surfaced synchronously, never
retried), transient (the caller feeds them into the supervisor's failure
path), integrity (the caller retries after refreshing state), and fatal
(the orchestrator refuses to start or shuts down). Backpressure is carried
as a distinct signal rather than a failure.

Components wrap the sentinels with fmt.Errorf and %w so call sites keep
their context while errors.Is still matches the kind.
*/
package errdefs
