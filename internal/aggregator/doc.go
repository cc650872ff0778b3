// Package aggregator correlates header and data notifications into a single
// CaptureResult.
//
// Headers and the login body reach the monitor through two independent call
// sites with no shared sequence number. The client always sets its headers
// before it writes the body, so the aggregator only accumulates headers and
// snapshots them when the qualifying body arrives. It never reorders.
//
// State Machine:
//
//	┌────────────┐
//	│ Collecting │ ◄──┐ header: add to HeaderSet (first wins)
//	└─────┬──────┘    │ data: not JSON / predicate false → discard
//	      │           │
//	      │ data: JSON object, predicate true
//	      ▼
//	┌────────────┐
//	│ Finalized  │  every later notification is ignored
//	└────────────┘
//
// The transition happens at most once, so at most one CaptureResult exists
// per Aggregator. An Aggregator has a single owner and is not locked.
package aggregator
