package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var resolveSagID int

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the PDF documents of a single Sag and print them",
	Long: `Resolve walks SagDokument -> Dokument -> Fil for one case and prints the
chosen main PDF, all PDF URLs and the per-document debug entries as JSON.
Nothing is written to the database.

Example:
  ./lovforslag resolve --sag-id 102567`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		defer rt.log.Sync()

		ctx, cancel := signalContext(rt)
		defer cancel()

		res, err := rt.newResolver().ResolveDocuments(ctx, resolveSagID, rt.cfg.DocRequestDelay, rt.cfg.DocRequestRetries)
		if err != nil {
			rt.log.Fatal("failed to resolve documents", "sag_id", resolveSagID, "error", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			rt.log.Fatal("failed to encode result", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().IntVar(&resolveSagID, "sag-id", 0, "ODA Sag id to resolve")
	resolveCmd.MarkFlagRequired("sag-id")
}
