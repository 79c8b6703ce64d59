package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/bat/internal/lg"
)

var _ RemoteRunner = (*SSHExecutor)(nil)

// SSHExecutor runs one command per call: it dials, opens a session, runs
// the command, and closes both. Nothing is pooled or retried.
type SSHExecutor struct {
	logger  lg.Logger
	dial    DialFunc
	breaker *gobreaker.CircuitBreaker
}

type Option func(*SSHExecutor)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(e *SSHExecutor) { e.dial = dial }
}

// WithCircuitBreaker makes dials fail fast with gobreaker.ErrOpenState
// after maxFailures consecutive dial failures. The breaker lives as long
// as the executor. Zero disables it.
func WithCircuitBreaker(maxFailures uint32) Option {
	return func(e *SSHExecutor) {
		if maxFailures == 0 {
			e.breaker = nil
			return
		}
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ssh-dial",
			MaxRequests: 1,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		})
	}
}

func NewSSHExecutor(logger lg.Logger, opts ...Option) *SSHExecutor {
	if logger == nil {
		logger = lg.Discard
	}
	e := &SSHExecutor{logger: logger, dial: dialTCP}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunRemote runs command on host as user and returns its combined output.
// A non-zero exit status of the remote command is logged, not returned.
func (e *SSHExecutor) RunRemote(ctx context.Context, host, user, command string, opts RemoteOptions) (string, error) {
	logger := e.logger.With(lg.String("host", host), lg.String("user", user))
	logger.Info("--> ssh", lg.String("command", command))

	config, addr, err := opts.clientConfig(host, user)
	if err != nil {
		return "", err
	}
	logger.Info("--> ssh options",
		lg.String("addr", addr),
		lg.Strings("keys", opts.keyFiles()),
		lg.Bool("insecure_ignore_host_key", opts.InsecureIgnoreHostKey),
		lg.Duration("timeout", config.Timeout))

	client, err := e.connect(ctx, addr, config)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(command)
	output := string(out)
	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			logger.Warn("remote command failed", lg.Int("exit_status", exitErr.ExitStatus()))
		case errors.As(err, &missingErr):
			logger.Warn("remote command exited without status")
		default:
			return output, fmt.Errorf("run command: %w", err)
		}
	}

	logger.Info("--> ssh output", lg.String("output", output))
	return output, nil
}

func (e *SSHExecutor) connect(ctx context.Context, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if e.breaker == nil {
		return e.dial(ctx, addr, config)
	}
	res, err := e.breaker.Execute(func() (any, error) {
		return e.dial(ctx, addr, config)
	})
	if err != nil {
		return nil, err
	}
	return res.(SSHClient), nil
}

type sshClient struct {
	*ssh.Client
}

func (c *sshClient) NewSession() (Session, error) {
	s, err := c.Client.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func dialTCP(ctx context.Context, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sshClient{ssh.NewClient(c, chans, reqs)}, nil
}
