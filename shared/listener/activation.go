package listener

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
)

// systemd passes inherited sockets starting at this descriptor.
const systemdFirstFD = 3

// activatedProvider serves a socket the service manager created. The service
// manager owns the socket, so Close leaves it alone.
type activatedProvider struct {
	kind     string
	activate func() (net.Listener, error)
}

func (p *activatedProvider) Create() (net.Listener, error) {
	l, err := p.activate()
	if err != nil {
		return nil, fmt.Errorf("%s socket activation failed: %w", p.kind, err)
	}
	return l, nil
}

func (p *activatedProvider) Close() error {
	return nil
}

func (p *activatedProvider) ActivationType() string {
	return p.kind
}

func systemdProvider() Provider {
	if !IsSystemdSocketActivation() {
		return nil
	}
	return &activatedProvider{kind: "systemd", activate: systemdListener}
}

func systemdListener() (net.Listener, error) {
	count, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS: %w", err)
	}
	if count < 1 {
		return nil, errors.New("no sockets were passed")
	}

	file := os.NewFile(systemdFirstFD, "LISTEN_FD_3")
	if file == nil {
		return nil, fmt.Errorf("descriptor %d is not open", systemdFirstFD)
	}
	defer file.Close()

	return net.FileListener(file)
}

// IsSystemdSocketActivation reports whether systemd passed sockets to this
// process rather than to a parent.
func IsSystemdSocketActivation() bool {
	return os.Getenv("LISTEN_FDS") != "" && os.Getenv("LISTEN_PID") == strconv.Itoa(os.Getpid())
}
