package eventprocessor

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mrzor/logincap/internal/aggregator"
	"github.com/mrzor/logincap/internal/headerset"
	"github.com/mrzor/logincap/internal/message"
)

// ErrStreamClosed is returned by Run when notifications stop before a
// qualifying body was seen.
var ErrStreamClosed = errors.New("notification stream closed before completion")

// CompletionHandler is invoked once with the capture result, on the consumer
// goroutine, before Done is closed.
type CompletionHandler func(result *aggregator.CaptureResult)

// Processor drives an aggregator from a notification channel.
type Processor struct {
	agg        *aggregator.Aggregator
	onComplete CompletionHandler
	logger     *zap.Logger

	once   sync.Once
	done   chan struct{}
	result *aggregator.CaptureResult

	mu    sync.Mutex
	stats aggregator.Stats
}

// NewProcessor creates a processor. onComplete may be nil.
func NewProcessor(agg *aggregator.Aggregator, onComplete CompletionHandler, logger *zap.Logger) *Processor {
	return &Processor{
		agg:        agg,
		onComplete: onComplete,
		logger:     logger.Named("eventprocessor"),
		done:       make(chan struct{}),
	}
}

// Run consumes notifications until a capture completes, the channel closes or
// ctx ends. It must be called from one goroutine only.
func (p *Processor) Run(ctx context.Context, in <-chan message.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-in:
			if !ok {
				// the stream also stops on cancellation
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrStreamClosed
			}
			if p.handle(n) {
				return nil
			}
		}
	}
}

// handle reports whether the capture completed.
func (p *Processor) handle(n message.Notification) bool {
	result, err := p.agg.Handle(n)

	p.mu.Lock()
	p.stats = p.agg.Stats()
	p.mu.Unlock()

	switch {
	case errors.Is(err, headerset.ErrMalformedHeader):
		p.logger.Debug("header rejected", zap.Error(err))
	case err != nil:
		p.logger.Warn("notification not handled", zap.Stringer("kind", n.Kind), zap.Error(err))
	}

	if result == nil {
		return false
	}

	p.complete(result)
	return true
}

func (p *Processor) complete(result *aggregator.CaptureResult) {
	p.once.Do(func() {
		p.result = result
		p.logger.Info("login captured",
			zap.Int("headers", result.Headers.Len()),
			zap.Time("at", result.CompletedAt),
		)
		if p.onComplete != nil {
			p.onComplete(result)
		}
		close(p.done)
	})
}

// Done is closed once a capture result is available.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Result returns the capture, or nil before Done is closed.
func (p *Processor) Result() *aggregator.CaptureResult {
	select {
	case <-p.done:
		return p.result
	default:
		return nil
	}
}

// Stats returns the aggregator counters as of the last handled notification.
func (p *Processor) Stats() aggregator.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
