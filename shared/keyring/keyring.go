package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const ServiceName = "parley"

// Keys under which parley stores credentials in the OS keyring.
const (
	KeyOpenAI    = "openai-api-key"
	KeyAnthropic = "anthropic-api-key"
	KeySerpAPI   = "serpapi-api-key"
	KeyJWTSecret = "jwt-secret"
	KeyCLIToken  = "cli-token"
)

var (
	ErrNotFound = errors.New("secret not found")
	ErrTooLarge = errors.New("secret is too large")
)

// SecretError ties a keyring failure to the key it happened for. It matches
// ErrNotFound or ErrTooLarge with errors.Is when Kind is set.
type SecretError struct {
	Key  string
	Kind error
	Err  error
}

func NotFound(key string) *SecretError {
	return &SecretError{Key: key, Kind: ErrNotFound}
}

func (e *SecretError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %q", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s: %q: %s", e.Kind, e.Key, e.Err)
}

func (e *SecretError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *SecretError) Unwrap() error {
	return e.Err
}

type Provider interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
}

// OSProvider stores secrets in the keychain of the operating system.
type OSProvider struct {
	service string
}

var _ Provider = (*OSProvider)(nil)

func NewOSProvider() *OSProvider {
	return &OSProvider{service: ServiceName}
}

func (k *OSProvider) Get(key string) (string, error) {
	secret, err := keyring.Get(k.service, key)
	return secret, classify(key, err)
}

func (k *OSProvider) Set(key string, value string) error {
	return classify(key, keyring.Set(k.service, key, value))
}

func (k *OSProvider) Delete(key string) error {
	return classify(key, keyring.Delete(k.service, key))
}

// Lookup returns the secret stored under key and an empty string when the
// keyring has no such entry.
func Lookup(provider Provider, key string) (string, error) {
	secret, err := provider.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return secret, err
}

func classify(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return &SecretError{Key: key, Kind: ErrNotFound, Err: err}
	case errors.Is(err, keyring.ErrSetDataTooBig):
		return &SecretError{Key: key, Kind: ErrTooLarge, Err: err}
	}
	return fmt.Errorf("keyring %q: %w", key, err)
}
