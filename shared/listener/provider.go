package listener

import (
	"errors"
	"net"
)

// Provider creates the listener the API server accepts connections on.
type Provider interface {
	Create() (net.Listener, error)
	Close() error
	ActivationType() string
}

var ErrNoListener = errors.New("no listener configured: pass a unix socket or tcp address, or start the server with socket activation")

// DetectProvider prefers an explicit unix socket, then an explicit TCP
// address, then a socket handed over by the service manager.
func DetectProvider(httpAddress, unixSocket string) (Provider, error) {
	switch {
	case unixSocket != "":
		return NewUnixSocketProvider(unixSocket), nil
	case httpAddress != "":
		return NewTCPProvider(httpAddress), nil
	}

	if provider := activatedProviderFromEnv(); provider != nil {
		return provider, nil
	}
	return nil, ErrNoListener
}

// IsSocketActivation reports whether a service manager handed over a socket.
func IsSocketActivation() bool {
	return activatedProviderFromEnv() != nil
}

func activatedProviderFromEnv() Provider {
	if provider := systemdProvider(); provider != nil {
		return provider
	}
	return platformProvider()
}
