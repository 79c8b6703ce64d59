package executor

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// RemoteRunner runs exactly one command on a remote host and returns
// its combined output.
type RemoteRunner interface {
	RunRemote(ctx context.Context, host, user, command string, opts RemoteOptions) (string, error)
}

// Session is the part of *ssh.Session the executor uses.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// SSHClient is an established connection that can open sessions.
type SSHClient interface {
	NewSession() (Session, error)
	Close() error
}

// DialFunc opens a connection to addr. The default dials TCP and performs
// the SSH handshake.
type DialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (SSHClient, error)
