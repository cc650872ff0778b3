package output

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/logincap/internal/aggregator"
	"github.com/mrzor/logincap/internal/otel"
)

// OTELFormatter annotates the run span.
type OTELFormatter struct {
	span trace.Span
}

// NewOTELFormatter wraps span.
func NewOTELFormatter(span trace.Span) *OTELFormatter {
	return &OTELFormatter{span: span}
}

// HandleTarget records the process being probed.
func (f *OTELFormatter) HandleTarget(pid int32, name string) {
	f.span.SetAttributes(
		otel.AttrTargetPID.Int64(int64(pid)),
		otel.AttrTargetName.String(name),
	)
}

// HandleStats records the aggregator counters.
func (f *OTELFormatter) HandleStats(stats aggregator.Stats) {
	f.span.SetAttributes(
		otel.AttrNotifications.Int(stats.Notifications),
		otel.AttrHeaderCount.Int(stats.Headers),
		otel.AttrDiscarded.Int(stats.Discarded),
		otel.AttrRejected.Int(stats.Rejected),
	)
}

// HandleResult marks the span as successful. A nil result with err records
// why the run ended without a capture.
func (f *OTELFormatter) HandleResult(result *aggregator.CaptureResult, err error) {
	switch {
	case err != nil:
		f.span.RecordError(err)
		f.span.SetStatus(codes.Error, err.Error())
	case result == nil:
		f.span.SetStatus(codes.Error, "no capture")
	default:
		f.span.SetAttributes(otel.AttrHeaderCount.Int(result.Headers.Len()))
		f.span.SetStatus(codes.Ok, "login captured")
	}
}
