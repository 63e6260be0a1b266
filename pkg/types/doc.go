/*
Package types defines the shared domain model for the Drover control plane.

Every component-owned entity lives here: tasks and their lifecycle states,
transition log entries, workers with capability maps and health, versioned
task snapshots, and the arbitration vocabulary (pleadings, consensus levels,
results). Components keep their own indices over these types behind their
public APIs; map references are never shared across package boundaries.

Payloads are opaque. A task's payload and a snapshot's state travel through
the core as bytes plus a content-type tag and are parsed only at the
boundary that produced them.
*/
package types
