package fail

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/furisto/parley/frontend/cli/pkg/terminal"
)

// UserError is an error the user can fix. It prints as a message with
// numbered suggestions.
type UserError struct {
	Cause       error
	UserMessage string
	Solutions   []string
	TechDetails string
}

func newUserError(cause error, message string, solutions ...string) *UserError {
	return &UserError{
		Cause:       cause,
		UserMessage: message,
		Solutions:   solutions,
		TechDetails: cause.Error(),
	}
}

func (e *UserError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", terminal.ErrorSymbol, terminal.Bold(e.UserMessage))

	if len(e.Solutions) > 0 {
		fmt.Fprintf(&b, "%s Try these solutions:\n", terminal.InfoSymbol)
		for i, solution := range e.Solutions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, solution)
		}
		b.WriteString("\n")
	}

	if e.TechDetails != "" {
		fmt.Fprintf(&b, "Technical details: %s\n", e.TechDetails)
	}
	return b.String()
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func NewConnectionError(address string, err error) *UserError {
	userErr := newUserError(err, "Cannot connect to the parley server",
		"Verify the server address with --server or PARLEY_SERVER",
		"Check the server logs for errors",
	)
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, fs.ErrNotExist) {
		userErr.Solutions = []string{
			"Start the server with 'parley serve'",
			"Wait a few seconds for the server to start, then try again",
			"Verify the server address with --server or PARLEY_SERVER",
		}
	}
	userErr.TechDetails = fmt.Sprintf("connection to %s failed: %v", address, err)
	return userErr
}

func NewUnauthorizedError(err error) *UserError {
	return newUserError(err, "The server rejected the access token",
		"Create a token with 'parley token create --subject <user>'",
		"Pass it with --token or PARLEY_TOKEN, or save it with --save",
	)
}

func NewMissingSecretError(err error) *UserError {
	return newUserError(err, "A required secret is not configured",
		"Set the environment variable named below or add it to .env",
		"Store it in the OS keyring with 'parley secret set <key>'",
	)
}

// EnhanceError turns filesystem and socket errors the server commonly hits on
// startup into a UserError. Other errors are returned unchanged.
func EnhanceError(err error, path string) error {
	var userErr *UserError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &userErr):
		return err
	case errors.Is(err, fs.ErrPermission):
		return newUserError(err, fmt.Sprintf("Permission denied accessing %s", path),
			"Check file permissions and ownership",
			"Ensure you have write access to the directory",
		)
	case errors.Is(err, syscall.EADDRINUSE):
		return newUserError(err, "The network address is already in use by another process",
			"Choose a different address with --listen-http",
			"Stop the process using this port",
			"Use a unix socket instead with --listen-unix",
		)
	}
	return err
}
