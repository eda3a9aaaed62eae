package deploy

import (
	"time"

	"github.com/halcyonops/rollout/internal/credstore"
	"github.com/halcyonops/rollout/internal/share"
	"github.com/halcyonops/rollout/internal/winexec"
)

// WinRMSessions returns a SessionFactory backed by real WinRM sessions.
func WinRMSessions(port int, useSSL bool) SessionFactory {
	return func(addr string, cred credstore.Credential) (Runner, error) {
		return winexec.Open(winexec.Endpoint{Host: addr, Port: port, UseSSL: useSSL}, cred.Username, cred.Password)
	}
}

// AdminShareStagers returns a StagerFactory backed by real SMB2 mounts of
// the named administrative share.
func AdminShareStagers(shareName string, timeout time.Duration) StagerFactory {
	return func(addr string, cred credstore.Credential) (Stager, error) {
		return share.Connect(addr, shareName, cred.Username, cred.Password, timeout)
	}
}
