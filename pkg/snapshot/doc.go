/*
Package snapshot implements the task snapshot store.

A snapshot is an opaque, versioned checkpoint of a task's in-flight
execution state. Versions per task are strictly increasing: saves that
omit a version are assigned max(existing)+1 under a per-task mutex, and
the repository enforces uniqueness on (taskID, version) so a racing
explicit save surfaces a version conflict instead of silently clobbering.

Every snapshot carries an absolute TTL (default one hour); expiry is a
closed interval, so a snapshot at exactly its expiration instant is
already expired. Restore returns the highest-version non-expired snapshot.
History per task is capped, with the oldest versions pruned on insert, and
a background loop sweeps expired rows.
*/
package snapshot
