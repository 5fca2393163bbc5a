package cli

import (
	"fmt"

	"cic-sync/internal/config"
	"github.com/spf13/cobra"
)

// NewTokenCmd issues a remote access token for a user.
func NewTokenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed access token for the remote document store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			token, err := tokenIssuer(cfg).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
