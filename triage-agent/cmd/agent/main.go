package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Medical triage chatbot backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")

	root.AddCommand(
		newServeCmd(&envFile),
		newIngestCmd(&envFile),
		newSeedCmd(&envFile),
		newQueryCmd(&envFile),
		newMigrateCmd(&envFile),
	)
	return root
}
