package topology

import (
	"errors"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

const onlinePath = "/sys/devices/system/cpu/online"

// OnlineCPUs returns the sorted ids of the logical CPUs the scheduler can
// currently use. On Linux this comes from sysfs; elsewhere, or if sysfs is
// unreadable, it falls back to a dense 0..NumCPU-1 range.
func OnlineCPUs() []int {
	if cpus, err := readListFile(onlinePath); err == nil && len(cpus) > 0 {
		return cpus
	}
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// ParseList parses the kernel CPU list format: comma-separated items, each a
// single id or an inclusive "start-end" range, e.g. "0-3,6,8-11". The result
// is sorted and deduplicated.
func ParseList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int{}, nil
	}

	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if strings.Contains(item, "-") {
			bounds := strings.SplitN(item, "-", 2)
			if len(bounds) != 2 {
				return nil, errors.New("invalid range")
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, err
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, err
			}
			if end < start {
				return nil, errors.New("range end before start")
			}
			for i := start; i <= end; i++ {
				values = append(values, i)
			}
			continue
		}
		parsed, err := strconv.Atoi(item)
		if err != nil {
			return nil, err
		}
		values = append(values, parsed)
	}

	sort.Ints(values)
	return dedupeSorted(values), nil
}

// FormatList renders sorted CPU ids back into the kernel list format,
// collapsing consecutive runs into ranges.
func FormatList(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := make([]int, len(cpus))
	copy(sorted, cpus)
	sort.Ints(sorted)
	sorted = dedupeSorted(sorted)

	var b strings.Builder
	start := sorted[0]
	prev := sorted[0]
	flush := func(end int) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(start))
		if end > start {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(end))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush(prev)
		start = cpu
		prev = cpu
	}
	flush(prev)
	return b.String()
}

func readListFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseList(string(data))
}

func dedupeSorted(values []int) []int {
	if len(values) == 0 {
		return values
	}
	result := make([]int, 0, len(values))
	last := values[0] - 1
	for _, value := range values {
		if value == last {
			continue
		}
		result = append(result, value)
		last = value
	}
	return result
}
