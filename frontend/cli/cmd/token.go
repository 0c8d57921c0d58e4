package cmd

import (
	"fmt"
	"time"

	"github.com/furisto/parley/backend/api/auth"
	"github.com/furisto/parley/frontend/cli/pkg/fail"
	"github.com/furisto/parley/frontend/cli/pkg/terminal"
	"github.com/furisto/parley/shared/keyring"
	"github.com/spf13/cobra"
)

func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Manage access tokens",
		GroupID: "system",
	}

	cmd.AddCommand(NewTokenCreateCmd())
	return cmd
}

type tokenCreateOptions struct {
	Serve   serveOptions
	Subject string
	Expires string
	Save    bool
}

func NewTokenCreateCmd() *cobra.Command {
	var options tokenCreateOptions

	cmd := &cobra.Command{
		Use:   "create [flags]",
		Short: "Sign an access token for a user with the server secret",
		Args:  cobra.NoArgs,
		Long: `Sign an access token for a user with the server secret.

The token is signed with the JWT secret from the server configuration. Its
subject is the user id all conversations created with the token belong to.`,
		Example: `  # Create a token with the default 90-day expiry
  parley token create --subject alice

  # Create a short lived token and store it in the keyring for 'parley chat'
  parley token create --subject alice --expires 1d --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			expires, err := ParseDuration(options.Expires)
			if err != nil {
				return fmt.Errorf("invalid expiry duration: %w", err)
			}
			if err := ValidateTokenExpiry(expires); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd.Context(), options.Serve)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fail.NewMissingSecretError(fmt.Errorf("JWT secret is not set (PARLEY_JWT_SECRET)"))
			}

			token, err := auth.NewTokenProvider([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer).GenerateToken(options.Subject, expires)
			if err != nil {
				return err
			}

			if options.Save {
				if err := getKeyring(cmd.Context()).Set(keyring.KeyCLIToken, token); err != nil {
					return fmt.Errorf("failed to store token in keyring: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Token for %s stored in the keyring, it expires %s\n",
					terminal.SuccessSymbol, options.Subject, time.Now().Add(expires).Format(time.RFC3339))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&options.Subject, "subject", "", "user id the token is issued for")
	cmd.Flags().StringVar(&options.Expires, "expires", "90d", "token lifetime, e.g. 12h or 30d")
	cmd.Flags().BoolVar(&options.Save, "save", false, "store the token in the keyring instead of printing it")
	cmd.Flags().StringVar(&options.Serve.ConfigFile, "config", "", "path to the configuration file")
	cmd.Flags().StringVar(&options.Serve.EnvFile, "env-file", ".env", "path to a .env file with secrets")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
