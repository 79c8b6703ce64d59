package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/bat/internal/lg"
)

type fakeSession struct {
	out    []byte
	err    error
	ran    []string
	closed bool
}

func (s *fakeSession) CombinedOutput(cmd string) ([]byte, error) {
	s.ran = append(s.ran, cmd)
	return s.out, s.err
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeClient struct {
	session *fakeSession
	closed  bool
}

func (c *fakeClient) NewSession() (Session, error) { return c.session, nil }
func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	client *fakeClient
	err    error
	calls  int
	addrs  []string
	users  []string
}

func (d *fakeDialer) dial(_ context.Context, addr string, cfg *ssh.ClientConfig) (SSHClient, error) {
	d.calls++
	d.addrs = append(d.addrs, addr)
	d.users = append(d.users, cfg.User)
	if d.err != nil {
		return nil, d.err
	}
	return d.client, nil
}

func writeKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "bat test key")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestRunRemoteMissingCredential(t *testing.T) {
	d := &fakeDialer{client: &fakeClient{session: &fakeSession{}}}
	e := NewSSHExecutor(lg.Discard, WithDialer(d.dial))

	_, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "uptime", RemoteOptions{InsecureIgnoreHostKey: true})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 0, d.calls, "no dial without a credential")
}

func TestRunRemoteConfigurationErrors(t *testing.T) {
	key := writeKey(t)
	tests := []struct {
		name string
		host string
		user string
		opts RemoteOptions
	}{
		{name: "empty host", host: "", user: "vcap", opts: RemoteOptions{PrivateKey: key, InsecureIgnoreHostKey: true}},
		{name: "empty user", host: "10.0.0.5", user: "", opts: RemoteOptions{PrivateKey: key, InsecureIgnoreHostKey: true}},
		{name: "empty key list", host: "10.0.0.5", user: "vcap", opts: RemoteOptions{Keys: []string{}, InsecureIgnoreHostKey: true}},
		{name: "unreadable key", host: "10.0.0.5", user: "vcap", opts: RemoteOptions{PrivateKey: "/nonexistent/key", InsecureIgnoreHostKey: true}},
		{name: "host key verification without known hosts", host: "10.0.0.5", user: "vcap", opts: RemoteOptions{PrivateKey: key}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{client: &fakeClient{session: &fakeSession{}}}
			e := NewSSHExecutor(lg.Discard, WithDialer(d.dial))
			_, err := e.RunRemote(context.Background(), tt.host, tt.user, "uptime", tt.opts)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Equal(t, 0, d.calls)
		})
	}
}

func TestRunRemoteOutput(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sess := &fakeSession{out: []byte("/dev/sda1 on / type ext4 (rw)\n")}
	client := &fakeClient{session: sess}
	d := &fakeDialer{client: client}
	e := NewSSHExecutor(lg.NewFromZap(zap.New(core)), WithDialer(d.dial))

	out, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "mount",
		RemoteOptions{PrivateKey: writeKey(t), Port: "2222", InsecureIgnoreHostKey: true})
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda1 on / type ext4 (rw)\n", out)

	assert.Equal(t, []string{"10.0.0.5:2222"}, d.addrs)
	assert.Equal(t, []string{"vcap"}, d.users)
	assert.Equal(t, []string{"mount"}, sess.ran)
	assert.True(t, sess.closed)
	assert.True(t, client.closed)

	assert.Equal(t, 1, logs.FilterMessage("--> ssh").Len())
	assert.Equal(t, 1, logs.FilterMessage("--> ssh options").Len())
	outputLogs := logs.FilterMessage("--> ssh output").All()
	require.Len(t, outputLogs, 1)
	assert.Equal(t, "/dev/sda1 on / type ext4 (rw)\n", outputLogs[0].ContextMap()["output"])
}

func TestRunRemoteKnownHosts(t *testing.T) {
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0600))

	d := &fakeDialer{client: &fakeClient{session: &fakeSession{out: []byte("ok")}}}
	e := NewSSHExecutor(lg.Discard, WithDialer(d.dial))

	out, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "true",
		RemoteOptions{Keys: []string{writeKey(t)}, Port: "22", KnownHostsFile: knownHosts})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRunRemoteExitStatusIsNotAnError(t *testing.T) {
	sess := &fakeSession{out: []byte("No such file or directory\n"), err: &ssh.ExitError{}}
	d := &fakeDialer{client: &fakeClient{session: sess}}
	e := NewSSHExecutor(lg.Discard, WithDialer(d.dial))

	out, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "cat /missing",
		RemoteOptions{PrivateKey: writeKey(t), Port: "22", InsecureIgnoreHostKey: true})
	require.NoError(t, err)
	assert.Equal(t, "No such file or directory\n", out)
}

func TestRunRemoteTransportErrors(t *testing.T) {
	key := writeKey(t)
	opts := RemoteOptions{PrivateKey: key, Port: "22", InsecureIgnoreHostKey: true}

	dialErr := errors.New("connection refused")
	d := &fakeDialer{err: dialErr}
	e := NewSSHExecutor(lg.Discard, WithDialer(d.dial))
	_, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "uptime", opts)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, 1, d.calls, "transport failures are not retried")

	sessErr := errors.New("channel closed")
	d = &fakeDialer{client: &fakeClient{session: &fakeSession{err: sessErr}}}
	e = NewSSHExecutor(lg.Discard, WithDialer(d.dial))
	_, err = e.RunRemote(context.Background(), "10.0.0.5", "vcap", "uptime", opts)
	assert.ErrorIs(t, err, sessErr)
}

func TestRunRemoteCircuitBreaker(t *testing.T) {
	opts := RemoteOptions{PrivateKey: writeKey(t), Port: "22", InsecureIgnoreHostKey: true}
	d := &fakeDialer{err: errors.New("no route to host")}
	e := NewSSHExecutor(lg.Discard, WithDialer(d.dial), WithCircuitBreaker(2))

	for i := 0; i < 2; i++ {
		_, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "uptime", opts)
		require.Error(t, err)
	}
	_, err := e.RunRemote(context.Background(), "10.0.0.5", "vcap", "uptime", opts)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, d.calls)
}
