package main

import (
	"github.com/xhd2015/shellper/config"
	"github.com/xhd2015/shellper/registry"
	"github.com/xhd2015/shellper/session"
)

// registryFile is a thin convenience wrapper around package registry,
// translating between session.ManagedSession and registry.Record (spec
// §6 "Persisted state consumed at Tower restart").
type registryFile struct {
	r *registry.Registry
}

func newRegistryFile(layout config.Layout) *registryFile {
	return &registryFile{r: registry.New(layout.RegistryPath())}
}

func (f *registryFile) all() (map[string]registry.Record, error) {
	return f.r.All()
}

func (f *registryFile) put(ms *session.ManagedSession) {
	f.r.Put(registry.Record{
		SessionID:  ms.SessionID,
		SocketPath: ms.SocketPath,
		Pid:        ms.Pid,
		StartTime:  ms.StartTime,
	})
}

func (f *registryFile) delete(sessionID string) {
	f.r.Delete(sessionID)
}
