package docker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// defaultRemoteSocket is where the engine listens on a host addressed as
// ssh://user@host.
const defaultRemoteSocket = "/var/run/docker.sock"

// sshConnectTimeout bounds the TCP dial and the SSH handshake.
const sshConnectTimeout = 10 * time.Second

// =============================================================================
// SSH Dialer
// =============================================================================

// SSHDialer opens Docker API connections through an SSH tunnel to the
// engine socket on a remote host. It provides the DialContext shape the
// Docker client transport expects, and keeps one SSH connection alive
// across API calls.
type SSHDialer struct {
	addr   string // host:port of the SSH server
	socket string // engine socket path on the remote host
	config *ssh.ClientConfig

	mu     sync.Mutex // protects client
	client *ssh.Client
}

// NewSSHDialer parses an ssh://user@host[:port] URL and prepares a
// dialer authenticated with the private key at keyPath. The user
// defaults to root and the port to 22.
func NewSSHDialer(host, keyPath string) (*SSHDialer, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse docker host %q: %w", host, err)
	}
	if u.Scheme != "ssh" {
		return nil, fmt.Errorf("docker host %q is not an ssh:// URL", host)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("docker host %q has no host", host)
	}

	user := u.User.Username()
	if user == "" {
		user = "root"
	}
	port := u.Port()
	if port == "" {
		port = "22"
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse SSH key: %w", err)
	}

	return &SSHDialer{
		addr:   net.JoinHostPort(u.Hostname(), port),
		socket: defaultRemoteSocket,
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts
			Timeout:         sshConnectTimeout,
		},
	}, nil
}

// DialContext connects to the remote engine socket through the SSH
// tunnel. The network and address from the HTTP transport are ignored;
// every connection goes to the engine socket on the SSH host.
func (s *SSHDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := client.Dial("unix", s.socket)
	if err != nil {
		return nil, fmt.Errorf("dial remote docker socket %s: %w", s.socket, err)
	}
	return conn, nil
}

// connect establishes the SSH connection if not already connected.
func (s *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		// Check if the connection is still alive
		if _, _, err := s.client.SendRequest("keepalive@shipwright", true, nil); err == nil {
			return s.client, nil
		}
		// Connection dead, reconnect
		s.client.Close()
		s.client = nil
	}

	d := net.Dialer{Timeout: sshConnectTimeout}
	raw, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", s.addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, s.addr, s.config)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", s.addr, err)
	}

	s.client = ssh.NewClient(conn, chans, reqs)
	return s.client, nil
}

// Close closes the SSH connection.
func (s *SSHDialer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}
