// Package share stages files onto a remote host's administrative share
// (C$ by default) over SMB2, so nothing beyond the built-in admin shares
// is needed on the target. Copies overwrite and are not checksummed.
package share

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"
)

const smbPort = 445

// Mount is a connected administrative share on one host. Not safe for
// concurrent use. Always release with Close.
type Mount struct {
	host string
	conn net.Conn
	sess *smb2.Session
	fs   *smb2.Share
}

// Connect dials the host's SMB port, authenticates with NTLM, and mounts
// the named share.
func Connect(host, shareName, username, password string, timeout time.Duration) (*Mount, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", smbPort)), timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, smbPort, err)
	}

	domain, user := splitDomainUser(username)
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     user,
			Password: password,
			Domain:   domain,
		},
	}

	sess, err := d.Dial(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smb session on %s: %w", host, err)
	}

	fs, err := sess.Mount(shareName)
	if err != nil {
		sess.Logoff()
		conn.Close()
		return nil, fmt.Errorf("mount %s on %s: %w", shareName, host, err)
	}

	log.Printf("[share] Mounted \\\\%s\\%s", host, shareName)
	return &Mount{host: host, conn: conn, sess: sess, fs: fs}, nil
}

// copyChunk bounds how much is written between context checks.
const copyChunk = 1 << 20

// Copy writes a local file to a share-relative remote path, overwriting
// any existing file. The context is checked between chunks so a stalled
// transfer cannot outlive the per-target budget.
func (m *Mount) Copy(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := m.fs.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s on %s: %w", remotePath, m.host, err)
	}

	var n int64
	for err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			break
		}
		var w int64
		w, err = io.CopyN(dst, src, copyChunk)
		n += w
	}
	if err == io.EOF {
		err = nil
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", localPath, m.host, err)
	}

	log.Printf("[share] %s -> \\\\%s\\...\\%s (%d bytes)", localPath, m.host, remotePath, n)
	return nil
}

// Close unmounts the share and tears down the session and connection.
// Best-effort; teardown errors are ignored.
func (m *Mount) Close() {
	if m.fs != nil {
		m.fs.Umount()
		m.fs = nil
	}
	if m.sess != nil {
		m.sess.Logoff()
		m.sess = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// splitDomainUser splits DOMAIN\user into its parts. A bare user name
// yields an empty domain.
func splitDomainUser(username string) (domain, user string) {
	if i := strings.Index(username, `\`); i >= 0 {
		return username[:i], username[i+1:]
	}
	return "", username
}
