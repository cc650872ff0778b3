package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the process table is scanned.
const DefaultPollInterval = time.Second

// Detacher is a probe session that can be removed from its target.
type Detacher interface {
	Detach() error
}

// Options configure a Manager.
type Options struct {
	// Launcher is prepended to the target path, e.g. ["wine"].
	Launcher     []string
	PollInterval time.Duration
	Table        ProcessTable
}

// Manager owns the target's lifecycle for one run.
type Manager struct {
	launcher     []string
	pollInterval time.Duration
	table        ProcessTable
	logger       *zap.Logger

	terminateOnce sync.Once
	terminateErr  error

	detachOnce sync.Once
	detachErr  error
}

// NewManager creates a manager. Zero options fall back to the live process
// table and DefaultPollInterval.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Table == nil {
		opts.Table = SystemTable{}
	}
	return &Manager{
		launcher:     opts.Launcher,
		pollInterval: opts.PollInterval,
		table:        opts.Table,
		logger:       logger.Named("lifecycle"),
	}
}

// PollInterval is how often Manager rechecks the target while waiting on it.
func (m *Manager) PollInterval() time.Duration {
	return m.pollInterval
}

// Launch starts the client without waiting for it. Its standard streams are
// not connected. The process outlives ctx; only Terminate stops it.
func (m *Manager) Launch(ctx context.Context, path string) (*os.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	argv := append(append([]string{}, m.launcher...), path)
	//nolint:gosec // launching the configured client is the point of this tool
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "launching %s", path)
	}

	m.logger.Info("client launched", zap.Strings("argv", argv), zap.Int("pid", cmd.Process.Pid))

	go func() {
		// reap the child; the launched pid may be a launcher that exits early
		err := cmd.Wait()
		m.logger.Debug("launched process exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}()

	return cmd.Process, nil
}

// AwaitNamedProcess polls the process table until a process called name
// appears and returns its pid. It waits until ctx ends.
func (m *Manager) AwaitNamedProcess(ctx context.Context, name string) (int32, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	logged := false
	for {
		pid, ok, err := m.find(ctx, name)
		if err != nil {
			m.logger.Warn("scanning process table", zap.Error(err))
		}
		if ok {
			m.logger.Info("target found", zap.String("name", name), zap.Int32("pid", pid))
			return pid, nil
		}
		if !logged {
			m.logger.Info("waiting for target", zap.String("name", name), zap.Duration("interval", m.pollInterval))
			logged = true
		}

		select {
		case <-ctx.Done():
			return 0, errors.Wrapf(ctx.Err(), "waiting for %s", name)
		case <-ticker.C:
		}
	}
}

func (m *Manager) find(ctx context.Context, name string) (int32, bool, error) {
	procs, err := m.table.List(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, p := range procs {
		if p.Name == name {
			return p.PID, true, nil
		}
	}
	return 0, false, nil
}

// Terminate kills pid. A process that is already gone is not an error. Only
// the first call acts; later calls return its outcome.
func (m *Manager) Terminate(ctx context.Context, pid int32) error {
	m.terminateOnce.Do(func() {
		err := m.table.Kill(ctx, pid)
		switch {
		case errors.Is(err, ErrProcessGone):
			m.logger.Info("target already exited", zap.Int32("pid", pid))
		case err != nil:
			m.terminateErr = err
		default:
			m.logger.Info("target terminated", zap.Int32("pid", pid))
		}
	})
	return m.terminateErr
}

// DetachSession detaches s once; later calls return the first outcome.
func (m *Manager) DetachSession(s Detacher) error {
	m.detachOnce.Do(func() {
		if s == nil {
			return
		}
		if err := s.Detach(); err != nil {
			m.detachErr = errors.Wrap(err, "detaching probe session")
		}
	})
	return m.detachErr
}
