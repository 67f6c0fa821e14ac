package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jjenkins/lovforslag/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		defer rt.log.Sync()

		ctx, cancel := signalContext(rt)
		defer cancel()

		db, err := rt.openDB(ctx)
		if err != nil {
			rt.log.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()

		applied, err := store.NewMigrator(db).Up(ctx)
		if err != nil {
			rt.log.Fatal("migration failed", "error", err)
		}
		rt.log.Info("migrations applied", "files", applied)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
