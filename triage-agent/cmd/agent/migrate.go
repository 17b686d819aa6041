package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/storage"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/telemetry"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the pgvector schema in DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			log := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
			if err := storage.Migrate(cmd.Context(), cfg.DatabaseURL, log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready in table %s.\n", storage.ChunkTable)
			return nil
		},
	}
}
