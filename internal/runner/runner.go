// Package runner orchestrates one capture: find the client, probe it, wait
// for the login request, tear down, print.
package runner

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mrzor/logincap/internal/aggregator"
	"github.com/mrzor/logincap/internal/config"
	"github.com/mrzor/logincap/internal/eventprocessor"
	"github.com/mrzor/logincap/internal/eventstream"
	"github.com/mrzor/logincap/internal/lifecycle"
	"github.com/mrzor/logincap/internal/message"
	"github.com/mrzor/logincap/internal/output"
	"github.com/mrzor/logincap/internal/probe"
	"github.com/mrzor/logincap/internal/probeloader"
	"github.com/mrzor/logincap/internal/qualify"
	"github.com/mrzor/logincap/internal/timesync"
)

// SpanName names the run span.
const SpanName = "logincap.capture"

// Lifecycle manages the target process. *lifecycle.Manager implements it.
type Lifecycle interface {
	Launch(ctx context.Context, path string) (*os.Process, error)
	AwaitNamedProcess(ctx context.Context, name string) (int32, error)
	Terminate(ctx context.Context, pid int32) error
	DetachSession(s lifecycle.Detacher) error
	PollInterval() time.Duration
}

// Options describe one run.
type Options struct {
	Target    config.Target
	Hooks     []probe.HookSpec
	Predicate qualify.Predicate

	// Timeout bounds the run; zero waits until the capture or cancellation.
	Timeout time.Duration
}

// Runner wires the capture pipeline.
type Runner struct {
	engine    Engine
	lifecycle Lifecycle
	clock     *timesync.Converter
	formatter *output.Formatter
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New creates a Runner printing records through formatter.
func New(engine Engine, lc Lifecycle, clock *timesync.Converter, formatter *output.Formatter, tracer trace.Tracer, logger *zap.Logger) *Runner {
	return &Runner{
		engine:    engine,
		lifecycle: lc,
		clock:     clock,
		formatter: formatter,
		tracer:    tracer,
		logger:    logger.Named("runner"),
	}
}

// Run performs one capture and prints it. On success the target has been
// killed and the session detached before the record is written. When ctx ends
// first the session is detached and the target left running.
func (r *Runner) Run(ctx context.Context, opts Options) (*aggregator.CaptureResult, error) {
	if len(opts.Hooks) == 0 {
		return nil, errors.New("no hooks configured")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ctx, span := r.tracer.Start(ctx, SpanName, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	annotate := output.NewOTELFormatter(span)

	result, err := r.run(ctx, opts, annotate)
	annotate.HandleResult(result, err)
	if err != nil {
		return nil, err
	}

	if err := r.formatter.Write(result); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, opts Options, annotate *output.OTELFormatter) (*aggregator.CaptureResult, error) {
	target := opts.Target
	if target.Launch() {
		if _, err := r.lifecycle.Launch(ctx, target.Path); err != nil {
			return nil, err
		}
	}

	pid, err := r.lifecycle.AwaitNamedProcess(ctx, target.ProcessName)
	if err != nil {
		return nil, err
	}
	annotate.HandleTarget(pid, target.ProcessName)

	session, err := r.engine.Attach(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "attaching to %s (pid %d)", target.ProcessName, pid)
	}
	// every exit path detaches; after a capture this is a no-op
	defer r.detach(session)

	encodings := make(map[message.Kind]probe.Encoding, len(opts.Hooks))
	for _, spec := range opts.Hooks {
		if err := r.hook(ctx, session, spec); err != nil {
			return nil, err
		}
		encodings[spec.Kind] = spec.Encoding
	}

	reader, err := session.Records()
	if err != nil {
		return nil, err
	}

	stream := eventstream.New(reader, r.clock, encodings, r.logger)
	if err := stream.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting event stream")
	}
	defer func() {
		_ = stream.Stop() //nolint:errcheck // Stop never fails
	}()

	teardown := func(*aggregator.CaptureResult) {
		r.terminate(ctx, pid)
		r.detach(session)
	}
	proc := eventprocessor.NewProcessor(aggregator.New(opts.Predicate), teardown, r.logger)

	r.logger.Info("waiting for login request", zap.Int32("pid", pid), zap.Int("hooks", len(opts.Hooks)))

	runErr := make(chan error, 1)
	go func() {
		runErr <- proc.Run(ctx, stream.Notifications())
	}()

	select {
	case <-proc.Done():
		err = nil
	case err = <-runErr:
	}
	annotate.HandleStats(proc.Stats())

	result := proc.Result()
	if result == nil {
		if err == nil {
			err = eventprocessor.ErrStreamClosed
		}
		r.logger.Info("capture abandoned; target left running", zap.Int32("pid", pid), zap.Error(err))
		return nil, errors.Wrap(err, "waiting for login request")
	}

	// the completion callback already ran; repeating both steps is a no-op
	// that guarantees they finished before the record is printed
	teardown(result)
	return result, nil
}

// hook attaches spec, waiting for its module to be loaded. A client that was
// just launched maps its DLLs well after its process name shows up.
func (r *Runner) hook(ctx context.Context, session Session, spec probe.HookSpec) error {
	ticker := time.NewTicker(r.lifecycle.PollInterval())
	defer ticker.Stop()

	logged := false
	for {
		err := session.Hook(spec)
		if !errors.Is(err, probeloader.ErrModuleNotMapped) {
			return err
		}
		if !logged {
			r.logger.Info("waiting for module", zap.String("module", spec.Module), zap.Stringer("hook", spec))
			logged = true
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %s", spec.Module)
		case <-ticker.C:
		}
	}
}

func (r *Runner) terminate(ctx context.Context, pid int32) {
	if err := r.lifecycle.Terminate(context.WithoutCancel(ctx), pid); err != nil {
		r.logger.Warn("terminating target", zap.Int32("pid", pid), zap.Error(err))
	}
}

func (r *Runner) detach(session Session) {
	if err := r.lifecycle.DetachSession(session); err != nil {
		r.logger.Warn("detaching probes", zap.Error(err))
	}
}
