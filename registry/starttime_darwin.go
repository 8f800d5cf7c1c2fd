//go:build darwin

package registry

import (
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// GetProcessStartTime shells out to `ps -p {pid} -o lstart=` and parses the
// result to epoch milliseconds (spec §4.4.7).
func GetProcessStartTime(pid int) (int64, bool) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "lstart=").Output()
	if err != nil {
		return 0, false
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return 0, false
	}
	t, err := time.Parse("Mon Jan  2 15:04:05 2006", line)
	if err != nil {
		t, err = time.Parse("Mon Jan 2 15:04:05 2006", line)
		if err != nil {
			return 0, false
		}
	}
	return t.UnixMilli(), true
}
