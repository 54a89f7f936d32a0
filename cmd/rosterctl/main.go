// Package main is the rosterctl operations CLI: schema migrations and
// superuser bootstrap.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rosterctl",
		Short: "Roster API operations tool",
		Long: `rosterctl manages the Roster API database.

It reads DATABASE_URL (and LOG_LEVEL, LOG_FORMAT, APP_ENV) from the
environment or a .env file in the working directory.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")

	root.AddCommand(
		newMigrateCmd(),
		newStatusCmd(),
		newCreateSuperuserCmd(),
	)
	return root
}
