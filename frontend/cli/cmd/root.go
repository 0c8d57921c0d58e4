package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/furisto/parley/frontend/cli/pkg/fail"
	"github.com/furisto/parley/shared"
)

// Set at build time with -ldflags.
var (
	Version   = "unknown"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const sentryFlushTimeout = 2 * time.Second

func NewRootCmd() *cobra.Command {
	var level logLevelFlag

	cmd := &cobra.Command{
		Use:           "parley",
		Short:         "Parley: a streaming chat assistant with web search.",
		Long:          figure.NewColorFigure("parley", "standard", "blue", true).String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			installLogger(cmd.Context(), getUserInfo(cmd.Context()), cmd.ErrOrStderr(), level.resolve())
			return nil
		},
	}

	cmd.PersistentFlags().Var(&level, "log-level", "debug, info, warn or error (env PARLEY_LOG_LEVEL)")

	cmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Conversations"},
		&cobra.Group{ID: "system", Title: "Server and Credentials"},
	)

	cmd.AddCommand(
		NewChatCmd(),
		NewChatsCmd(),
		NewServeCmd(),
		NewTokenCmd(),
		NewSecretCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI and exits the process with status 1 on failure.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(sentryFlushTimeout)
			fmt.Fprintf(os.Stderr, "panic: %v\n\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// reporting stays disabled without a DSN
	if err := sentry.Init(sentry.ClientOptions{Dsn: os.Getenv("SENTRY_DSN"), Release: Version}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize sentry: %s\n", err)
	}
	defer sentry.Flush(sentryFlushTimeout)

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if reportable(err) {
			sentry.CaptureException(err)
		}
		sentry.Flush(sentryFlushTimeout)
		os.Exit(1)
	}
}

// reportable excludes failures caused by the user's input or environment.
func reportable(err error) bool {
	var userErr *fail.UserError
	return !errors.As(err, &userErr) && shared.SourceOf(err) != shared.ErrorSourceUser
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Print version information",
		GroupID: "system",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parley %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
