package lifecycle

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo is one row of the process table.
type ProcessInfo struct {
	PID  int32
	Name string
}

// ProcessTable is the view of the system's processes the manager needs.
type ProcessTable interface {
	List(ctx context.Context) ([]ProcessInfo, error)
	// Kill returns ErrProcessGone when pid no longer exists.
	Kill(ctx context.Context, pid int32) error
}

// ErrProcessGone reports a process that exited before it could be signalled.
var ErrProcessGone = errors.New("process not running")

// SystemTable reads the live process table through gopsutil.
type SystemTable struct{}

// List returns every process whose name could be read. Processes that exit
// while the table is walked are skipped.
func (SystemTable) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing processes")
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, ProcessInfo{PID: p.Pid, Name: name})
	}
	return infos, nil
}

// Kill sends SIGKILL to pid.
func (SystemTable) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return ErrProcessGone
		}
		return errors.Wrapf(err, "finding process %d", pid)
	}

	if err := p.KillWithContext(ctx); err != nil {
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return ErrProcessGone
		}
		return errors.Wrapf(err, "killing process %d", pid)
	}
	return nil
}
