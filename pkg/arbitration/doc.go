/*
Package arbitration selects one final decision from multiple competing
worker outputs.

The confidence scorer turns a worker's verification record, task history,
arbitration record and compliance into a single weight-normalized score in
[0,1] with a bucketed level. The coordinator tallies N pleadings into an
approve/deny/abstain breakdown, classifies consensus (unanimous, strong at
75%, weak at 50%, contested below; the 50% boundary is weak), and picks
the winning side by weighted score. Abstain never wins: an all-abstain
panel is an insufficient-participants error.

Escalation is flagged when overall confidence falls strictly below the
threshold, consensus is contested, or more than half the panel abstained.
*/
package arbitration
