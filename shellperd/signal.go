package shellperd

import "syscall"

// signalFromInt maps an allowed numeric signal (spec §6 "Allowed signals")
// to its syscall.Signal value.
func signalFromInt(n int) syscall.Signal {
	return syscall.Signal(n)
}
