//go:build linux

package registry

import (
	"fmt"
	"os"
)

// GetProcessStartTime reads /proc/{pid}'s ctime as a stable proxy for
// process start within the tolerance window (spec §4.4.7).
func GetProcessStartTime(pid int) (int64, bool) {
	info, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	if err != nil {
		return 0, false
	}
	st, ok := statCtime(info)
	if !ok {
		return 0, false
	}
	return st, true
}
