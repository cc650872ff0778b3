// Package eventstream reads probe records from the ring buffer and delivers
// them as notifications, in ring buffer order, on a buffered channel.
package eventstream

import (
	"bytes"
	"context"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"

	"github.com/mrzor/logincap/internal/message"
	"github.com/mrzor/logincap/internal/probe"
	"github.com/mrzor/logincap/internal/timesync"
)

// DefaultBuffer is the notification channel capacity.
const DefaultBuffer = 256

// MaxReadFailures consecutive read errors end the stream.
const MaxReadFailures = 8

const (
	initialReadBackoff = 10 * time.Millisecond
	maxReadBackoff     = time.Second
)

// Reader is the subset of *ringbuf.Reader the stream uses.
type Reader interface {
	Read() (ringbuf.Record, error)
}

// Stream reads records from a ring buffer and publishes notifications.
type Stream struct {
	reader    Reader
	clock     *timesync.Converter
	encodings map[message.Kind]probe.Encoding
	logger    *zap.Logger
	backoff   time.Duration

	out    chan message.Notification
	stopCh chan struct{}
	done   chan struct{}
}

// New creates a Stream. encodings tells how each kind's payload is laid out;
// kinds absent from it are dropped.
func New(reader Reader, clock *timesync.Converter, encodings map[message.Kind]probe.Encoding, logger *zap.Logger) *Stream {
	return &Stream{
		reader:    reader,
		clock:     clock,
		encodings: encodings,
		logger:    logger.Named("eventstream"),
		backoff:   initialReadBackoff,
		out:       make(chan message.Notification, DefaultBuffer),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Notifications returns the channel notifications are published on. It is
// closed when the stream stops.
func (s *Stream) Notifications() <-chan message.Notification {
	return s.out
}

// Start begins reading records in a goroutine. It returns immediately and
// processes records in the background until the context is cancelled, Stop is
// called, or the reader is closed.
func (s *Stream) Start(ctx context.Context) error {
	go s.processEvents(ctx)
	return nil
}

// Stop signals the reading goroutine to stop. A Read already blocked returns
// only once the underlying reader is closed.
func (s *Stream) Stop() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return nil
}

// Done is closed after the reading goroutine has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) processEvents(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	failures, delay := 0, s.backoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			failures++
			if failures >= MaxReadFailures {
				s.logger.Error("giving up on ring buffer", zap.Int("failures", failures), zap.Error(err))
				return
			}
			s.logger.Warn("reading from ring buffer", zap.Error(err), zap.Duration("retry_in", delay))
			if !s.wait(ctx, delay) {
				return
			}
			delay = min(delay*2, maxReadBackoff)
			continue
		}
		failures, delay = 0, s.backoff

		n, err := s.decode(record.RawSample)
		if err != nil {
			s.logger.Debug("dropping record", zap.Error(err))
			continue
		}

		select {
		case s.out <- n:
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// wait sleeps for d and reports false if the stream was stopped meanwhile.
func (s *Stream) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	}
}

func (s *Stream) decode(raw []byte) (message.Notification, error) {
	rec, err := probe.DecodeRecord(raw)
	if err != nil {
		return message.Notification{}, err
	}

	enc, ok := s.encodings[rec.Kind]
	if !ok {
		return message.Notification{}, errors.Newf("no hook for record kind %d", uint32(rec.Kind))
	}

	payload, err := DecodePayload(rec.Data, enc)
	if err != nil {
		return message.Notification{}, errors.Wrapf(err, "decoding %s payload", rec.Kind)
	}

	return message.Notification{
		Kind:      rec.Kind,
		Payload:   payload,
		Timestamp: s.clock.MonotonicToWallClock(rec.Timestamp),
	}, nil
}

// DecodePayload turns a copied argument buffer into text. Wide strings are
// cut at the first NUL character, which also handles a length of -1 that the
// probe clamped to its copy limit.
func DecodePayload(data []byte, enc probe.Encoding) (string, error) {
	switch enc {
	case probe.EncodingUTF16LE:
		data = data[:len(data)&^1]
		for i := 0; i < len(data); i += 2 {
			if data[i] == 0 && data[i+1] == 0 {
				data = data[:i]
				break
			}
		}
		text, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", errors.Wrap(err, "utf-16 payload")
		}
		return string(text), nil
	case probe.EncodingBytes:
		if i := bytes.IndexByte(data, 0); i >= 0 {
			data = data[:i]
		}
		return string(data), nil
	default:
		return "", errors.Newf("unsupported encoding %s", enc)
	}
}
