package aggregator

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mrzor/logincap/internal/headerset"
	"github.com/mrzor/logincap/internal/loginpayload"
	"github.com/mrzor/logincap/internal/message"
	"github.com/mrzor/logincap/internal/qualify"
)

// State is the aggregator's position in the completion state machine.
type State int

const (
	StateCollecting State = iota
	StateFinalized
)

func (s State) String() string {
	if s == StateFinalized {
		return "finalized"
	}
	return "collecting"
}

// CaptureResult is the reconstructed login request.
type CaptureResult struct {
	// Body is the login payload re-encoded with its original key order.
	Body string
	// Headers is the HeaderSet as it stood when the body arrived.
	Headers headerset.Snapshot
	// CompletedAt is the capture time of the qualifying data call.
	CompletedAt time.Time
}

// Stats counts what the aggregator has seen.
type Stats struct {
	Notifications int
	Headers       int
	Rejected      int
	Discarded     int
}

// Aggregator owns the HeaderSet and the run's completion state.
type Aggregator struct {
	headers   *headerset.Set
	predicate qualify.Predicate
	state     State
	result    *CaptureResult
	stats     Stats
}

// New creates an aggregator in the Collecting state.
func New(predicate qualify.Predicate) *Aggregator {
	return &Aggregator{
		headers:   headerset.New(),
		predicate: predicate,
		state:     StateCollecting,
	}
}

// Handle applies one notification. It returns the CaptureResult on the single
// call that finalizes the aggregator and nil otherwise. An error describes a
// notification that was rejected; the aggregator stays usable.
func (a *Aggregator) Handle(n message.Notification) (*CaptureResult, error) {
	if a.state == StateFinalized {
		return nil, nil
	}
	a.stats.Notifications++

	switch n.Kind {
	case message.KindHeader:
		return nil, a.handleHeader(n.Payload)
	case message.KindData:
		return a.handleData(n)
	default:
		return nil, errors.Newf("unknown notification kind %d", n.Kind)
	}
}

func (a *Aggregator) handleHeader(payload string) error {
	records, err := headerset.ParseBlock(payload)
	for _, rec := range records {
		if a.headers.Add(rec) {
			a.stats.Headers++
		}
	}
	if err != nil {
		a.stats.Rejected++
	}
	return err
}

func (a *Aggregator) handleData(n message.Notification) (*CaptureResult, error) {
	payload, ok := loginpayload.TryParse(n.Payload)
	if !ok {
		a.stats.Discarded++
		return nil, nil
	}

	qualifies, err := a.predicate.Qualifies(payload.Object())
	if err != nil {
		a.stats.Discarded++
		return nil, errors.Wrap(err, "evaluating data payload")
	}
	if !qualifies {
		a.stats.Discarded++
		return nil, nil
	}

	body, err := payload.Encode()
	if err != nil {
		a.stats.Discarded++
		return nil, errors.Wrap(err, "encoding login payload")
	}

	a.result = &CaptureResult{
		Body:        body,
		Headers:     a.headers.Snapshot(),
		CompletedAt: n.Timestamp,
	}
	a.state = StateFinalized

	return a.result, nil
}

// State returns the current state.
func (a *Aggregator) State() State {
	return a.state
}

// Finalized reports whether the capture is complete.
func (a *Aggregator) Finalized() bool {
	return a.state == StateFinalized
}

// Result returns the CaptureResult once finalized, nil before.
func (a *Aggregator) Result() *CaptureResult {
	return a.result
}

// Headers returns a snapshot of the headers collected so far.
func (a *Aggregator) Headers() headerset.Snapshot {
	return a.headers.Snapshot()
}

// Stats returns the counters.
func (a *Aggregator) Stats() Stats {
	return a.stats
}
