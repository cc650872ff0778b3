package runner

import (
	"go.uber.org/zap"

	"github.com/mrzor/logincap/internal/eventstream"
	"github.com/mrzor/logincap/internal/probe"
	"github.com/mrzor/logincap/internal/probeloader"
)

// Engine attaches probe sessions to processes.
type Engine interface {
	Attach(pid int32) (Session, error)
}

// Session is a set of probes on one process.
type Session interface {
	Hook(spec probe.HookSpec) error
	// Records returns the reader all hooks publish to.
	Records() (eventstream.Reader, error)
	Detach() error
}

// ProbeEngine attaches eBPF uprobe sessions.
type ProbeEngine struct {
	Options probeloader.Options
	Logger  *zap.Logger
}

// Attach implements Engine.
func (e ProbeEngine) Attach(pid int32) (Session, error) {
	s, err := probeloader.Attach(pid, e.Options, e.Logger)
	if err != nil {
		return nil, err
	}
	return probeSession{s}, nil
}

type probeSession struct {
	*probeloader.Session
}

func (s probeSession) Records() (eventstream.Reader, error) {
	return s.OpenRingBuffer()
}
