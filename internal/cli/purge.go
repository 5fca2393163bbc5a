package cli

import (
	"fmt"

	"cic-sync/internal/config"
	"cic-sync/internal/logging"
	"cic-sync/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewPurgeCmd wipes every user's local data from the configured device storage.
func NewPurgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete all user-scoped local data (device reset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Mode, cfg.Log.File)
			defer func() { _ = log.Sync() }()

			backend, closeBackend, err := openBackend(cfg, log)
			if err != nil {
				return err
			}
			defer closeBackend()

			removed, err := session.PurgeAllUserSessions(cmd.Context(), backend)
			if err != nil {
				return err
			}
			log.Info("purged user data", zap.Int("keys", removed))
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d keys\n", removed)
			return nil
		},
	}
}
