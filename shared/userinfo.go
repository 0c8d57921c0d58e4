package shared

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

const appName = "parley"

type UserInfo interface {
	HomeDir() (string, error)
	ConfigDir() (string, error)
	DataDir() (string, error)
	LogDir() (string, error)
}

// DefaultUserInfo resolves parley's directories following the XDG base
// directory layout and creates them on first use.
type DefaultUserInfo struct {
	fs afero.Fs
}

func NewDefaultUserInfo(fs afero.Fs) *DefaultUserInfo {
	return &DefaultUserInfo{fs: fs}
}

func (u *DefaultUserInfo) HomeDir() (string, error) {
	return os.UserHomeDir()
}

func (u *DefaultUserInfo) ConfigDir() (string, error) {
	return u.ensure(filepath.Join(xdg.ConfigHome, appName), "config")
}

func (u *DefaultUserInfo) DataDir() (string, error) {
	return u.ensure(filepath.Join(xdg.DataHome, appName), "data")
}

func (u *DefaultUserInfo) LogDir() (string, error) {
	logDir := filepath.Join(xdg.StateHome, appName)
	if runtime.GOOS == "darwin" {
		homeDir, err := u.HomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, "Library", "Logs", appName)
	}
	return u.ensure(logDir, "log")
}

func (u *DefaultUserInfo) ensure(dir, kind string) (string, error) {
	if err := u.fs.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
	}
	return dir, nil
}

var _ UserInfo = (*DefaultUserInfo)(nil)
