package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/furisto/parley/frontend/cli/pkg/terminal"
	"github.com/furisto/parley/shared/keyring"
	"github.com/spf13/cobra"
)

var secretKeys = []string{
	keyring.KeyOpenAI,
	keyring.KeyAnthropic,
	keyring.KeySerpAPI,
	keyring.KeyJWTSecret,
	keyring.KeyCLIToken,
}

func NewSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "secret",
		Short:   "Manage secrets stored in the OS keyring",
		GroupID: "system",
		Long: fmt.Sprintf(`Manage secrets stored in the OS keyring.

Secrets in the keyring are used when neither the configuration file nor the
environment provide a value. Known keys: %s.`, strings.Join(secretKeys, ", ")),
	}

	cmd.AddCommand(NewSecretSetCmd())
	cmd.AddCommand(NewSecretDeleteCmd())
	return cmd
}

func NewSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		Example: `  # Store the OpenAI API key
  echo "$OPENAI_API_KEY" | parley secret set openai-api-key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := validateSecretKey(key); err != nil {
				return err
			}

			value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			value = strings.TrimSpace(value)
			if value == "" {
				if err != nil {
					return fmt.Errorf("failed to read secret from stdin: %w", err)
				}
				return errors.New("secret must not be empty")
			}

			if err := getKeyring(cmd.Context()).Set(key, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s\n", terminal.SuccessSymbol, key)
			return nil
		},
	}
}

func NewSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Short:   "Remove a secret",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := validateSecretKey(key); err != nil {
				return err
			}

			err := getKeyring(cmd.Context()).Delete(key)
			if errors.Is(err, keyring.ErrNotFound) {
				return fmt.Errorf("secret %s is not set", key)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", terminal.SuccessSymbol, key)
			return nil
		},
	}
}

func validateSecretKey(key string) error {
	for _, known := range secretKeys {
		if key == known {
			return nil
		}
	}
	return fmt.Errorf("unknown secret %q, must be one of %s", key, strings.Join(secretKeys, ", "))
}
