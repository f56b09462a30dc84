package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth2u/server"
)

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print the bcrypt hash of a client secret",
		Long: `Print the bcrypt hash of a client secret for a "clients" entry (secret_hash) of the
config file. Only the hash is stored; clients send the secret itself as
their Basic password.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashClientSecret(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
