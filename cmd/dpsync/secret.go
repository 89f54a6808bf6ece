package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Ning0612/dpsync/internal/service"
)

// readPassword is replaced in tests
var readPassword = term.ReadPassword

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the local encrypted store",
	}
	cmd.AddCommand(newSecretSetCmd(a), newSecretDeleteCmd(a))
	return cmd
}

func newSecretSetCmd(a *app) *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Store the secret of a server or distribution point",
		Long: "Store the client secret of a server, the password of a file share " +
			"or the secret access key of an S3 bucket. The secret is read from the terminal.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, account, err := a.secretLocation(args[0])
			if err != nil {
				return err
			}

			secret, err := promptSecret(cmd, fromStdin, fmt.Sprintf("Secret for %s (%s): ", args[0], account))
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("empty secret")
			}

			store, err := a.secretStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Set(svc, account, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the secret from standard input")
	return cmd
}

func newSecretDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove the stored secret of a server or distribution point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, account, err := a.secretLocation(args[0])
			if err != nil {
				return err
			}

			store, err := a.secretStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(svc, account)
		},
	}
}

func (a *app) secretLocation(name string) (string, string, error) {
	return service.NewFactory(a.cfg).SecretLocation(name)
}

func promptSecret(cmd *cobra.Command, fromStdin bool, prompt string) (string, error) {
	if fromStdin {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}
