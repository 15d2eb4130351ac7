//go:build linux

package affinity

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentOnSelf(t *testing.T) {
	applier := NewSystemApplier()
	mask, err := applier.Current(int32(os.Getpid()))
	require.NoError(t, err)
	assert.NotZero(t, mask.Count())
}

func TestApplyIsIdempotent(t *testing.T) {
	applier := NewSystemApplier()
	pid := int32(os.Getpid())

	mask, err := applier.Current(pid)
	require.NoError(t, err)

	// Re-applying the mask the process already has changes nothing.
	require.NoError(t, applier.Apply(pid, mask))
	require.NoError(t, applier.Apply(pid, mask))

	after, err := applier.Current(pid)
	require.NoError(t, err)
	assert.True(t, mask.Equal(after))
}

func TestApplyOnDeadProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	mask, err := NewMask([]int{0})
	require.NoError(t, err)

	err = NewSystemApplier().Apply(int32(cmd.Process.Pid), mask)
	assert.ErrorIs(t, err, ErrProcessNotFound)
}
