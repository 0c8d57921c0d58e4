package listener

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
)

const socketMode = 0o600

// SocketProvider listens on an address given on the command line or in the
// configuration.
type SocketProvider struct {
	network  string
	address  string
	listener net.Listener
}

var _ Provider = (*SocketProvider)(nil)

func NewTCPProvider(address string) *SocketProvider {
	return &SocketProvider{network: "tcp", address: address}
}

// NewUnixSocketProvider listens on a socket file that only the current user
// may connect to.
func NewUnixSocketProvider(path string) *SocketProvider {
	return &SocketProvider{network: "unix", address: path}
}

func (p *SocketProvider) Create() (net.Listener, error) {
	if p.network == "unix" {
		// a socket file left behind by a crashed server blocks Listen
		_ = os.Remove(p.address)
	}

	l, err := net.Listen(p.network, p.address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", p.network, p.address, err)
	}

	if p.network == "unix" {
		if err := os.Chmod(p.address, socketMode); err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
		}
	}

	p.listener = l
	return l, nil
}

func (p *SocketProvider) Close() error {
	if p.listener != nil {
		p.listener.Close()
	}
	if p.network != "unix" {
		return nil
	}

	if err := os.Remove(p.address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (p *SocketProvider) ActivationType() string {
	return p.network
}
