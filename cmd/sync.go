package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/exotica-tools/exomirror/internal/utils"
	"github.com/exotica-tools/exomirror/pkg/fetch"
	"github.com/exotica-tools/exomirror/pkg/mirror"
	"github.com/exotica-tools/exomirror/pkg/postproc"
	"github.com/exotica-tools/exomirror/pkg/storage"
	"github.com/exotica-tools/exomirror/pkg/wiki"
)

// historyDBName is the sync history database inside the mirror root.
const historyDBName = ".exomirror.sqlite"

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronizes the local mirror with the wiki catalog.",
	Long: `Crawls the catalog index, fetches missing archives and box scans, and
writes per-entry metadata. Entries already present on disk are skipped,
so re-running converges the mirror without re-downloading anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("destination")
		filterStr, _ := cmd.Flags().GetString("filter")
		skipCDDA, _ := cmd.Flags().GetBool("skip-cdda")
		delay, _ := cmd.Flags().GetDuration("delay")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		limit, _ := cmd.Flags().GetInt("limit")

		if !cmd.Flags().Changed("destination") {
			dest = viper.GetString("sync.destination")
		}
		if !cmd.Flags().Changed("delay") {
			delay = viper.GetDuration("sync.delay")
		}
		if !cmd.Flags().Changed("timeout") {
			timeout = viper.GetDuration("sync.timeout")
		}

		var filter *regexp.Regexp
		if filterStr != "" {
			var err error
			filter, err = regexp.Compile("(?i)" + filterStr)
			if err != nil {
				return fmt.Errorf("invalid --filter expression: %w", err)
			}
			// The entry cap exists to keep accidental unfiltered runs
			// from hammering the site; a deliberate filter lifts it.
			if !cmd.Flags().Changed("limit") {
				limit = 0
			}
		} else if limit > 0 {
			utils.Log.Warnf("No --filter given, limiting to %d entries (override with --limit 0)", limit)
		}

		dest, err := homedir.Expand(dest)
		if err != nil {
			return err
		}
		dest, err = filepath.Abs(dest)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("couldn't create destination <%s>: %w", dest, err)
		}

		lock, err := utils.NewMirrorLock(dest)
		if err != nil {
			return err
		}
		if err := lock.Lock(); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := storage.Open(filepath.Join(dest, historyDBName))
		if err != nil {
			return fmt.Errorf("couldn't open sync history: %w", err)
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fetcher := fetch.New(delay, timeout)
		engine := &mirror.Engine{
			Wiki:  wiki.New(fetcher),
			Fetch: fetcher,
			Post:  postproc.NewProcessor(),
			Store: db,
			Root:  dest,
			Opts: mirror.Options{
				Filter:   filter,
				SkipCDDA: skipCDDA,
				Limit:    limit,
			},
		}

		utils.Log.Infof("Mirroring data to <%s>", dest)
		sum, err := engine.Run(ctx)
		if err != nil {
			return err
		}

		// Individual failures stay non-fatal; the next run retries
		// exactly the assets that are still missing.
		if len(sum.Failures) > 0 {
			utils.Log.Warnf("%d assets failed, re-run to retry them", len(sum.Failures))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringP("destination", "d", "./UnExoticA-Mirror", "Target directory for the mirror (a non existing directory will be created)")
	syncCmd.Flags().StringP("filter", "f", "", "Regular expression to limit downloads to matching titles (case insensitive), e.g. \".*Zool.*\"")
	syncCmd.Flags().BoolP("skip-cdda", "", false, "Skip downloading archives with CDDA data of CD32 games")
	syncCmd.Flags().DurationP("delay", "", 0, "Minimum delay between requests against the wiki host")
	syncCmd.Flags().DurationP("timeout", "", 0, "Per-request timeout")
	syncCmd.Flags().IntP("limit", "", 10, "Maximum entries per unfiltered run, 0 disables the cap")
}
