// Package sshprobe implements the readiness probe backends use to decide
// when a started instance's guest is actually usable: an SSH connectivity
// check against the instance's endpoint.
package sshprobe

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// handshakeTimeout bounds one probe attempt end to end.
const handshakeTimeout = 5 * time.Second

// Probe dials an instance's sshd. With key material it authenticates fully;
// without, a server that answers the handshake far enough to reject
// authentication still counts as up: the probe establishes reachability,
// not login.
type Probe struct {
	username string
	signer   ssh.Signer
}

// New builds a probe for the given guest account. privateKeyPath may be
// empty; when set, the key is loaded and the probe authenticates with it.
func New(username, privateKeyPath string) (*Probe, error) {
	p := &Probe{username: username}

	if privateKeyPath != "" {
		key, err := os.ReadFile(privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		p.signer = signer
	}

	return p, nil
}

// Probe attempts one SSH connection to addr ("host:port"). It returns nil
// once the guest's sshd answers.
func (p *Probe) Probe(ctx context.Context, addr string) error {
	config := &ssh.ClientConfig{
		User: p.username,
		// Disposable instances regenerate host keys on every launch;
		// there is nothing to pin against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         handshakeTimeout,
	}
	if p.signer != nil {
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(p.signer)}
	}

	dialer := net.Dialer{Timeout: handshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		// An authentication rejection means sshd is up and serving;
		// that is all the readiness probe needs to know.
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil
		}
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	return client.Close()
}
