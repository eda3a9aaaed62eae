// Package winexec opens command-execution sessions against remote Windows
// hosts over WinRM. A Session wraps one remote shell: commands run
// synchronously and return their captured output and process exit code.
// NTLM auth is used throughout; Basic is rarely enabled in domain
// environments.
package winexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	gowinrm "github.com/masterzen/winrm"
)

// Endpoint describes the WinRM listener on a target host.
type Endpoint struct {
	Host   string
	Port   int // 0 → 5985 plain, 5986 with SSL
	UseSSL bool
}

// Result is the outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

const operationTimeout = 120 * time.Second

// Session is an open remote shell on one host. Not safe for concurrent use.
type Session struct {
	host  string
	shell *gowinrm.Shell
}

// Open connects to the endpoint and creates a remote shell.
func Open(ep Endpoint, username, password string) (*Session, error) {
	port := ep.Port
	if port == 0 {
		if ep.UseSSL {
			port = 5986
		} else {
			port = 5985
		}
	}

	endpoint := gowinrm.NewEndpoint(ep.Host, port, ep.UseSSL, true, nil, nil, nil, operationTimeout)

	params := gowinrm.NewParameters("PT120S", "en-US", 153600)
	params.TransportDecorator = func() gowinrm.Transporter { return &gowinrm.ClientNTLM{} }

	client, err := gowinrm.NewClientWithParameters(endpoint, username, password, params)
	if err != nil {
		return nil, fmt.Errorf("winrm client for %s: %w", ep.Host, err)
	}

	shell, err := client.CreateShell()
	if err != nil {
		return nil, fmt.Errorf("create shell on %s: %w", ep.Host, err)
	}

	log.Printf("[winrm] Session open on %s:%d (ssl=%v)", ep.Host, port, ep.UseSSL)
	return &Session{host: ep.Host, shell: shell}, nil
}

// Run executes a command in the session's shell and waits for it to
// exit. The context bounds the wait; a cancelled context abandons the
// remote command and returns its error.
func (s *Session) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd, err := s.shell.ExecuteWithContext(ctx, name, args...)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("execute %s on %s: %w", name, s.host, err)
	}
	defer cmd.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	go io.Copy(&stdoutBuf, cmd.Stdout)
	go io.Copy(&stderrBuf, cmd.Stderr)

	cmd.Wait()

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("execute %s on %s: %w", name, s.host, err)
	}

	return Result{
		ExitCode: cmd.ExitCode(),
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
	}, nil
}

// Close tears down the remote shell. Best-effort; errors are logged only.
func (s *Session) Close() {
	if s.shell == nil {
		return
	}
	if err := s.shell.Close(); err != nil {
		log.Printf("[winrm] Close shell on %s: %v", s.host, err)
	}
	s.shell = nil
}
