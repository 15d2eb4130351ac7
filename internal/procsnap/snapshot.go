// Package procsnap reads the live process table. Every snapshot is computed
// fresh from the OS so the watcher never acts on stale pids.
package procsnap

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrSnapshotUnavailable wraps an OS failure while enumerating processes.
// The watcher treats it as transient until it persists.
var ErrSnapshotUnavailable = errors.New("process snapshot unavailable")

// Proc is one live process as observed at snapshot time. The pid is only
// meaningful within the snapshot's cycle; the OS may recycle it later.
type Proc struct {
	PID  int32
	Name string
}

// Snapshotter produces a finite, freshly computed view of the process table
// on every call.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]Proc, error)
}

// SystemSnapshotter enumerates processes of the running OS.
type SystemSnapshotter struct{}

func NewSystemSnapshotter() *SystemSnapshotter {
	return &SystemSnapshotter{}
}

var _ Snapshotter = (*SystemSnapshotter)(nil)

func (s *SystemSnapshotter) Snapshot(ctx context.Context) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}

	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// The process exited between enumeration and the name read.
			continue
		}
		out = append(out, Proc{PID: p.Pid, Name: name})
	}
	return out, nil
}
