package shellperd

import (
	"syscall"
)

// exitInfo reaps p's process (idempotently — p.wait is shared with
// terminate, so a generation killed mid-SPAWN is only ever waited on once)
// and extracts the exit code and/or terminating signal, matching the EXIT
// payload shape {code|null, signal|null} from spec §4.1.
func exitInfo(p *ptyProc) (code *int, signal *int) {
	p.wait()
	state := p.cmd.ProcessState
	if state == nil {
		return nil, nil
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		c := state.ExitCode()
		return &c, nil
	}
	if ws.Signaled() {
		s := int(ws.Signal())
		return nil, &s
	}
	c := ws.ExitStatus()
	return &c, nil
}
