/*
Package events provides the in-memory event broker for Drover's pub/sub
messaging.

Components publish lifecycle events (task transitions, worker registration
and eviction, snapshot saves) to a single broker; subscribers receive them
on buffered channels. Delivery is best-effort: a slow subscriber never
back-propagates to the emitter, its events are skipped once its buffer
fills. State changes are committed before their events are
published, so a subscriber may observe an event whose state has already
been superseded.
*/
package events
