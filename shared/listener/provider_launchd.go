//go:build darwin

package listener

import (
	"net"
	"os"
	"strings"

	launchd "github.com/bored-engineer/go-launchd"
)

const (
	launchdLabelPrefix = "dev.parley.server."
	launchdSocketName  = "Listeners"
)

func platformProvider() Provider {
	if !IsLaunchdSocketActivation() {
		return nil
	}
	return &activatedProvider{
		kind: "launchd",
		activate: func() (net.Listener, error) {
			return launchd.Activate(launchdSocketName)
		},
	}
}

// IsLaunchdSocketActivation reports whether the process runs as a launchd job
// installed for parley.
func IsLaunchdSocketActivation() bool {
	return strings.HasPrefix(os.Getenv("XPC_SERVICE_NAME"), launchdLabelPrefix)
}
