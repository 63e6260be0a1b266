/*
Package storage provides the repository layer for Drover's durable state.

The Store interface covers the two persisted row families: worker
capability rows (one JSON row per worker id) and task snapshot rows keyed
by (taskID, version) with a uniqueness guarantee on the pair. BoltStore
backs them with a single BoltDB file; MemoryStore keeps everything
in-process for tests and data-dir-less runs.

Snapshot keys in BoltDB zero-pad the version so a cursor range over the
task prefix walks versions in order, which keeps latest-version and prune
operations a single pass.
*/
package storage
