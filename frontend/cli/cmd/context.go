package cmd

import (
	"context"
	"net/http"

	"github.com/furisto/parley/shared"
	"github.com/furisto/parley/shared/keyring"
	"github.com/spf13/afero"
)

type ContextKey string

const (
	ContextKeyFileSystem      ContextKey = "filesystem"
	ContextKeyUserInfo        ContextKey = "user_info"
	ContextKeyKeyring         ContextKey = "keyring"
	ContextKeyHTTPClient      ContextKey = "http_client"
	ContextKeyDisableFileLogs ContextKey = "disable_file_logs"
)

func getFileSystem(ctx context.Context) afero.Fs {
	if fs, ok := ctx.Value(ContextKeyFileSystem).(afero.Fs); ok && fs != nil {
		return fs
	}
	return afero.NewOsFs()
}

func getUserInfo(ctx context.Context) shared.UserInfo {
	if userInfo, ok := ctx.Value(ContextKeyUserInfo).(shared.UserInfo); ok && userInfo != nil {
		return userInfo
	}
	return shared.NewDefaultUserInfo(getFileSystem(ctx))
}

func getKeyring(ctx context.Context) keyring.Provider {
	if provider, ok := ctx.Value(ContextKeyKeyring).(keyring.Provider); ok && provider != nil {
		return provider
	}
	return keyring.NewOSProvider()
}

func getHTTPClient(ctx context.Context) *http.Client {
	if client, ok := ctx.Value(ContextKeyHTTPClient).(*http.Client); ok && client != nil {
		return client
	}
	return nil
}
