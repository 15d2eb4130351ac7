package affinity

import (
	"errors"
	"fmt"
	"sort"

	"simpin/internal/topology"
)

// ErrEmptyMask reports an affinity mask that selects no CPUs. A process has
// to be runnable somewhere, so such a mask is never valid.
var ErrEmptyMask = errors.New("affinity mask selects no CPUs")

const cpusPerWord = 64

// Mask is a non-empty set of logical CPU ids a process is allowed to run on.
// The zero value is invalid; construct one with NewMask, ParseMask or
// MaskFromWords.
type Mask struct {
	cpus []int // sorted, deduplicated
}

// NewMask builds a Mask from the given CPU ids. It fails with ErrEmptyMask
// when ids is empty and rejects negative ids.
func NewMask(ids []int) (Mask, error) {
	if len(ids) == 0 {
		return Mask{}, ErrEmptyMask
	}
	cpus := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			return Mask{}, fmt.Errorf("negative CPU id %d", id)
		}
		cpus = append(cpus, id)
	}
	sort.Ints(cpus)
	deduped := cpus[:1]
	for _, cpu := range cpus[1:] {
		if cpu != deduped[len(deduped)-1] {
			deduped = append(deduped, cpu)
		}
	}
	return Mask{cpus: deduped}, nil
}

// ParseMask parses the kernel CPU list format, e.g. "0-3,6".
func ParseMask(s string) (Mask, error) {
	cpus, err := topology.ParseList(s)
	if err != nil {
		return Mask{}, err
	}
	return NewMask(cpus)
}

// CPUs returns the selected CPU ids in ascending order.
func (m Mask) CPUs() []int {
	out := make([]int, len(m.cpus))
	copy(out, m.cpus)
	return out
}

// Count returns how many CPUs the mask selects.
func (m Mask) Count() int {
	return len(m.cpus)
}

// Contains reports whether cpu is part of the mask.
func (m Mask) Contains(cpu int) bool {
	i := sort.SearchInts(m.cpus, cpu)
	return i < len(m.cpus) && m.cpus[i] == cpu
}

// Equal reports whether both masks select the same CPUs.
func (m Mask) Equal(other Mask) bool {
	if len(m.cpus) != len(other.cpus) {
		return false
	}
	for i, cpu := range m.cpus {
		if other.cpus[i] != cpu {
			return false
		}
	}
	return true
}

// Words returns the native bit representation: 64 CPUs per word, the least
// significant bit of word 0 being CPU 0. This is the layout
// sched_setaffinity(2) and the Windows affinity calls consume.
func (m Mask) Words() []uint64 {
	if len(m.cpus) == 0 {
		return nil
	}
	words := make([]uint64, m.cpus[len(m.cpus)-1]/cpusPerWord+1)
	for _, cpu := range m.cpus {
		words[cpu/cpusPerWord] |= uint64(1) << (cpu % cpusPerWord)
	}
	return words
}

// MaskFromWords rebuilds a Mask from its native bit representation. It fails
// with ErrEmptyMask when no bit is set.
func MaskFromWords(words []uint64) (Mask, error) {
	var cpus []int
	for i, word := range words {
		for bit := 0; word != 0 && bit < cpusPerWord; bit++ {
			if word&(uint64(1)<<bit) != 0 {
				cpus = append(cpus, i*cpusPerWord+bit)
				word &^= uint64(1) << bit
			}
		}
	}
	if len(cpus) == 0 {
		return Mask{}, ErrEmptyMask
	}
	return Mask{cpus: cpus}, nil
}

// String renders the mask in kernel list format, e.g. "0-3,6".
func (m Mask) String() string {
	return topology.FormatList(m.cpus)
}
