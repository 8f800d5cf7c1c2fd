//go:build !linux && !darwin

package registry

// GetProcessStartTime returns false on platforms with no known probe; a
// false result at reconnect is treated as a mismatch and rejected (spec
// §4.4.7).
func GetProcessStartTime(pid int) (int64, bool) {
	return 0, false
}
