package executor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort        = "22"
	defaultDialTimeout = 10 * time.Second
)

// ErrConfiguration is returned before any network attempt when the
// options cannot produce a usable client configuration.
var ErrConfiguration = errors.New("ssh configuration error")

var validate = validator.New()

// RemoteOptions configures one remote command. Exactly one kind of
// credential is needed: a list of key files or a single private key file.
// PrivateKey, when set, replaces Keys.
type RemoteOptions struct {
	Keys       []string `validate:"required_without=PrivateKey,dive,required"`
	PrivateKey string   `validate:"required_without=Keys"`

	// Port defaults to the Port of the host's ~/.ssh/config entry, then 22.
	Port    string
	Timeout time.Duration

	// KnownHostsFile is required unless InsecureIgnoreHostKey is set.
	KnownHostsFile string
	// InsecureIgnoreHostKey disables host key verification. Test environments only.
	InsecureIgnoreHostKey bool
}

func (o RemoteOptions) keyFiles() []string {
	if o.PrivateKey != "" {
		return []string{o.PrivateKey}
	}
	return o.Keys
}

func (o RemoteOptions) check(host, user string) error {
	if err := validate.Var(host, "required"); err != nil {
		return fmt.Errorf("%w: host: %v", ErrConfiguration, err)
	}
	if err := validate.Var(user, "required"); err != nil {
		return fmt.Errorf("%w: user: %v", ErrConfiguration, err)
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: need ssh Keys or PrivateKey: %v", ErrConfiguration, err)
	}
	if len(o.keyFiles()) == 0 {
		return fmt.Errorf("%w: need ssh Keys or PrivateKey", ErrConfiguration)
	}
	if !o.InsecureIgnoreHostKey && o.KnownHostsFile == "" {
		return fmt.Errorf("%w: set KnownHostsFile or InsecureIgnoreHostKey", ErrConfiguration)
	}
	return nil
}

// clientConfig builds the ssh client configuration and the address to dial.
func (o RemoteOptions) clientConfig(host, user string) (*ssh.ClientConfig, string, error) {
	if err := o.check(host, user); err != nil {
		return nil, "", err
	}

	var signers []ssh.Signer
	for _, path := range o.keyFiles() {
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: unable to read private key: %v", ErrConfiguration, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, "", fmt.Errorf("%w: unable to parse private key %s: %v", ErrConfiguration, path, err)
		}
		signers = append(signers, signer)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !o.InsecureIgnoreHostKey {
		cb, err := knownhosts.New(o.KnownHostsFile)
		if err != nil {
			return nil, "", fmt.Errorf("%w: known hosts %s: %v", ErrConfiguration, o.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}
	return config, net.JoinHostPort(host, o.port(host)), nil
}

func (o RemoteOptions) port(host string) string {
	if o.Port != "" {
		return o.Port
	}
	if p := ssh_config.Get(host, "Port"); p != "" {
		return p
	}
	return defaultPort
}
