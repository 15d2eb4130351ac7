package affinity

import "errors"

var (
	// ErrProcessNotFound means the target exited between being observed and
	// the affinity call. A normal race, not a fault.
	ErrProcessNotFound = errors.New("process not found")
	// ErrPermissionDenied means the caller lacks the rights to modify the
	// target process.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidMask means the mask references CPUs the machine does not
	// have.
	ErrInvalidMask = errors.New("invalid affinity mask")
)

// Applier mutates the OS-level CPU affinity of processes.
type Applier interface {
	// Apply pins pid to the CPUs in mask. Repeating the call with the same
	// mask on a live process is a no-op.
	Apply(pid int32, mask Mask) error
	// Current reads the CPUs pid is currently allowed to run on.
	Current(pid int32) (Mask, error)
}

// SystemApplier issues affinity calls against the running operating system.
type SystemApplier struct{}

func NewSystemApplier() *SystemApplier {
	return &SystemApplier{}
}

var _ Applier = (*SystemApplier)(nil)
