package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/exotica-tools/exomirror/pkg/storage"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints per-bucket statistics and unresolved failures of the mirror.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("destination")
		if !cmd.Flags().Changed("destination") {
			dest = viper.GetString("sync.destination")
		}
		dest, err := homedir.Expand(dest)
		if err != nil {
			return err
		}

		dbPath := filepath.Join(dest, historyDBName)
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("no sync history found at %s, run 'exomirror sync' first", dbPath)
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("No entries in the sync history yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "BUCKET\tENTRIES\tARCHIVES\tFAILED\t")

		var totalEntries, totalArchives, totalFailed int
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t\n", s.Bucket, s.Entries, s.Archives, s.Failed)
			totalEntries += s.Entries
			totalArchives += s.Archives
			totalFailed += s.Failed
		}
		fmt.Fprintln(w, " \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t\n", totalEntries, totalArchives, totalFailed)
		w.Flush()

		failures, err := db.Failures(context.Background())
		if err != nil {
			return err
		}
		if len(failures) > 0 {
			fmt.Println()
			fmt.Println("Unresolved failures (retried on next sync):")
			for _, f := range failures {
				fmt.Printf("  %s: %s\n", f.Title, f.Failure)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringP("destination", "d", "./UnExoticA-Mirror", "Mirror directory to inspect")
}
