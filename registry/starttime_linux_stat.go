//go:build linux

package registry

import (
	"os"
	"syscall"
)

func statCtime(info os.FileInfo) (int64, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Ctim.Sec*1000 + st.Ctim.Nsec/1e6, true
}
