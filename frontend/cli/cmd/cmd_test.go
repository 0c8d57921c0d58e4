package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/furisto/parley/shared/keyring"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

type fakeKeyring map[string]string

func (k fakeKeyring) Get(key string) (string, error) {
	secret, ok := k[key]
	if !ok {
		return "", keyring.NotFound(key)
	}
	return secret, nil
}

func (k fakeKeyring) Set(key, value string) error {
	k[key] = value
	return nil
}

func (k fakeKeyring) Delete(key string) error {
	if _, ok := k[key]; !ok {
		return keyring.NotFound(key)
	}
	delete(k, key)
	return nil
}

type testUserInfo struct {
	root string
}

func (u *testUserInfo) HomeDir() (string, error)   { return u.root, nil }
func (u *testUserInfo) ConfigDir() (string, error) { return u.root + "/.config/parley", nil }
func (u *testUserInfo) DataDir() (string, error)   { return u.root + "/.local/share/parley", nil }
func (u *testUserInfo) LogDir() (string, error)    { return u.root + "/.local/state/parley", nil }

type TestScenario struct {
	Name            string
	Command         []string
	Stdin           string
	SetupFileSystem func(fs afero.Fs)
	SetupEnv        map[string]string
	Keyring         map[string]string
	Server          http.HandlerFunc
	Expected        TestExpectation
}

type TestExpectation struct {
	Stdout string
	// Error must be contained in the returned error.
	Error   string
	Keyring map[string]string
}

type testResult struct {
	stdout  string
	stderr  string
	err     error
	keyring fakeKeyring
}

// secretEnv lists the variables that must not leak from the environment
// running the tests into the configuration.
var secretEnv = []string{
	"LLM_API_KEY", "OPENAI_API_KEY", "FALLBACK_LLM_API_KEY", "ANTHROPIC_API_KEY",
	"SERPAPI_API_KEY", "PARLEY_JWT_SECRET", "PARLEY_TOKEN", "PARLEY_SERVER",
	"PARLEY_LOG_LEVEL", "PARLEY_ADDRESS", "PARLEY_DATABASE", "PARLEY_ATTACHMENTS_DIR",
	"POSTHOG_API_KEY", "SENTRY_DSN", "LLM_BASE_URL", "FALLBACK_LLM_BASE_URL",
	"PARLEY_MAX_TOOL_ROUND_TRIPS",
}

func execute(t *testing.T, ctx context.Context, scenario TestScenario) testResult {
	t.Helper()

	for _, key := range secretEnv {
		t.Setenv(key, "")
	}
	for key, value := range scenario.SetupEnv {
		t.Setenv(key, value)
	}

	if scenario.Server != nil {
		server := httptest.NewServer(scenario.Server)
		t.Cleanup(server.Close)
		t.Setenv("PARLEY_SERVER", server.URL)
	}

	fs := afero.NewMemMapFs()
	if scenario.SetupFileSystem != nil {
		scenario.SetupFileSystem(fs)
	}

	secrets := fakeKeyring{}
	for key, value := range scenario.Keyring {
		secrets[key] = value
	}

	ctx = context.WithValue(ctx, ContextKeyFileSystem, fs)
	ctx = context.WithValue(ctx, ContextKeyUserInfo, &testUserInfo{root: "/home/test"})
	ctx = context.WithValue(ctx, ContextKeyKeyring, keyring.Provider(secrets))
	ctx = context.WithValue(ctx, ContextKeyDisableFileLogs, true)

	testCmd := NewRootCmd()
	testCmd.SetIn(strings.NewReader(scenario.Stdin))

	var stdout, stderr bytes.Buffer
	testCmd.SetOut(&stdout)
	testCmd.SetErr(&stderr)
	testCmd.SetArgs(scenario.Command)

	err := testCmd.ExecuteContext(ctx)
	return testResult{stdout: stdout.String(), stderr: stderr.String(), err: err, keyring: secrets}
}

func RunTests(t *testing.T, scenarios []TestScenario) {
	if len(scenarios) == 0 {
		t.Fatalf("no scenarios provided")
	}

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			result := execute(t, context.Background(), scenario)

			if scenario.Expected.Error == "" && result.err != nil {
				t.Fatalf("unexpected error: %v", result.err)
			}
			if scenario.Expected.Error != "" {
				if result.err == nil {
					t.Fatalf("expected error containing %q, got none", scenario.Expected.Error)
				}
				if !strings.Contains(result.err.Error(), scenario.Expected.Error) {
					t.Fatalf("error = %q, want it to contain %q", result.err.Error(), scenario.Expected.Error)
				}
			}

			if diff := cmp.Diff(scenario.Expected.Stdout, result.stdout); diff != "" {
				t.Errorf("stdout mismatch (-want +got):\n%s", diff)
			}

			if scenario.Expected.Keyring != nil {
				if diff := cmp.Diff(scenario.Expected.Keyring, map[string]string(result.keyring)); diff != "" {
					t.Errorf("keyring mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}
