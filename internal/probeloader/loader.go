// Package probeloader manages the lifecycle of the uprobe session attached to
// the target process: ring buffer, programs and their links.
package probeloader

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mrzor/logincap/internal/probe"
)

// DefaultRingBufferSize is the ring buffer capacity in bytes.
const DefaultRingBufferSize = 1 << 20

// ErrDetached is returned by operations on a session that has been detached.
var ErrDetached = errors.New("probe session detached")

// Options tune a session.
type Options struct {
	ABI            probe.ABI
	MaxPayload     int
	RingBufferSize uint32

	// Mapped lists the target's mappings; nil uses ProcessMappedPaths.
	Mapped MappedPaths
}

type hook struct {
	spec probe.HookSpec
	path string
	prog *ebpf.Program
	link link.Link
}

// Session is the set of probes attached to one target process.
type Session struct {
	pid    int32
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	rb     *ebpf.Map
	hooks  []*hook
	reader *ringbuf.Reader
	closed bool
}

// Attach prepares a session for pid: it lifts the memlock limit and creates
// the ring buffer. No hook is installed yet.
func Attach(pid int32, opts Options, logger *zap.Logger) (*Session, error) {
	if runtime.GOARCH != "amd64" {
		return nil, errors.Newf("argument registers are only known for amd64, not %s", runtime.GOARCH)
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = probe.DefaultMaxPayload
	}
	if opts.RingBufferSize == 0 {
		opts.RingBufferSize = DefaultRingBufferSize
	}
	if opts.ABI == "" {
		opts.ABI = probe.ABIMicrosoft
	}
	if opts.Mapped == nil {
		opts.Mapped = ProcessMappedPaths
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, errors.Wrap(err, "removing memlock rlimit")
	}

	rb, err := ebpf.NewMap(probe.RingBufferSpec(opts.RingBufferSize))
	if err != nil {
		return nil, errors.Wrap(err, "creating ring buffer")
	}

	return &Session{
		pid:    pid,
		opts:   opts,
		logger: logger.Named("probeloader").With(zap.Int32("pid", pid)),
		rb:     rb,
	}, nil
}

// PID returns the target process.
func (s *Session) PID() int32 {
	return s.pid
}

// Hook resolves spec in the target, loads its program and attaches it as a
// uprobe filtered to the target pid.
func (s *Session) Hook(spec probe.HookSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDetached
	}

	path, err := ResolveModule(s.pid, spec.Module, s.opts.Mapped)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", spec)
	}

	progSpec, err := probe.ProgramSpec(programName(spec, len(s.hooks)), spec, s.opts.ABI, s.rb, s.opts.MaxPayload)
	if err != nil {
		return err
	}

	h := &hook{spec: spec, path: path}
	h.prog, err = ebpf.NewProgram(progSpec)
	if err != nil {
		return errors.Wrapf(err, "loading program for %s", spec)
	}

	ex, err := link.OpenExecutable(path)
	if err != nil {
		return closeErrorf(h, errors.Wrapf(err, "opening %s", path))
	}

	h.link, err = ex.Uprobe(spec.Symbol, h.prog, &link.UprobeOptions{PID: int(s.pid)})
	if err != nil {
		return closeErrorf(h, errors.Wrapf(err, "attaching uprobe %s", spec))
	}

	s.hooks = append(s.hooks, h)
	s.logger.Info("hook attached",
		zap.Stringer("hook", spec),
		zap.String("path", path),
		zap.Stringer("kind", spec.Kind),
	)
	return nil
}

// closeErrorf releases a half-built hook and returns err.
func closeErrorf(h *hook, err error) error {
	if h.link != nil {
		_ = h.link.Close() //nolint:errcheck // Best-effort cleanup in error path
	}
	if h.prog != nil {
		_ = h.prog.Close() //nolint:errcheck // Best-effort cleanup in error path
	}
	return err
}

// OpenRingBuffer opens the reader shared by all hooks. The session owns it and
// closes it on Detach, which unblocks a pending Read with ringbuf.ErrClosed.
func (s *Session) OpenRingBuffer() (*ringbuf.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDetached
	}
	if s.reader != nil {
		return s.reader, nil
	}

	rd, err := ringbuf.NewReader(s.rb)
	if err != nil {
		return nil, errors.Wrap(err, "opening ring buffer")
	}
	s.reader = rd
	return rd, nil
}

// Detach removes every hook and releases the ring buffer. Later calls are
// no-ops.
func (s *Session) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.hooks) - 1; i >= 0; i-- {
		h := s.hooks[i]
		if err := h.link.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing link %s", h.spec))
		}
		if err := h.prog.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing program %s", h.spec))
		}
	}
	s.hooks = nil

	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "closing ring buffer reader"))
		}
	}
	if err := s.rb.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "closing ring buffer"))
	}

	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), "errors during detach")
	}
	s.logger.Info("session detached")
	return nil
}

// programName derives a kernel program name; the kernel keeps 15 bytes.
func programName(spec probe.HookSpec, index int) string {
	return fmt.Sprintf("lc_%s_%d", spec.Kind, index)
}
