// Package mirror is the synchronization engine: it turns the discovered
// catalog into a work-list of per-asset fetches and materializes the
// results under the destination root.
package mirror

import (
	"context"
	"os"
	"time"

	"github.com/exotica-tools/exomirror/internal/utils"
	"github.com/exotica-tools/exomirror/pkg/fetch"
	"github.com/exotica-tools/exomirror/pkg/postproc"
	"github.com/exotica-tools/exomirror/pkg/storage"
	"github.com/exotica-tools/exomirror/pkg/wiki"
)

const (
	// The smallest legitimate LHA archive is bigger than its 21-byte
	// header; anything near that is a truncated or bogus download.
	minArchiveSize int64 = 64

	minArtworkSize int64 = 32
)

// Failure is one contained per-asset or per-entry error.
type Failure struct {
	Title string
	URL   string
	Err   error
}

// Summary is what a run reports back to the operator.
type Summary struct {
	Entries  int
	Fetched  int
	Skipped  int
	Failures []Failure
}

// Engine drives one synchronization pass. All network traffic is
// strictly sequential: the wiki is a shared, rate-sensitive resource
// and discovery and asset fetches share one pacing budget inside the
// fetch client.
type Engine struct {
	Wiki  *wiki.Client
	Fetch *fetch.Client
	Post  *postproc.Processor
	Store *storage.DB // optional; nil disables history recording
	Root  string
	Opts  Options
}

// Run crawls the catalog and converges the mirror. Per-entry and
// per-asset errors are contained and summarized; only setup failures
// (unreachable host, unreadable index) return an error. Cancelling ctx
// finishes the in-flight item and stops before the next one.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	info, err := e.Wiki.Siteinfo(ctx)
	if err != nil {
		return nil, err
	}
	utils.Log.Infof("Mirroring %q (%s)", info.Name, info.Generator)

	refs, err := e.Wiki.DiscoverTitles(ctx)
	if err != nil {
		return nil, err
	}

	if e.Opts.Filter != nil {
		matched := refs[:0]
		for _, ref := range refs {
			if e.Opts.Filter.MatchString(ref.Title) {
				matched = append(matched, ref)
			}
		}
		refs = matched
	}
	utils.Log.Infof("%d titles matched", len(refs))

	if e.Opts.Limit > 0 && len(refs) > e.Opts.Limit {
		utils.Log.Warnf("Limiting to %d entries, this will not be a full mirror", e.Opts.Limit)
		refs = refs[:e.Opts.Limit]
	}

	resolver := NewResolver(e.Root)
	runID := time.Now().Unix()
	sum := &Summary{}

	for _, ref := range refs {
		if ctx.Err() != nil {
			utils.Log.Warn("Stop requested, not starting further entries")
			break
		}
		e.syncEntry(ctx, resolver, ref, runID, sum)
	}

	for _, f := range sum.Failures {
		utils.Log.Errorf("Failed: %s <%s>: %s", f.Title, f.URL, f.Err)
	}
	utils.Log.Infof("Done: %d entries, %d assets fetched, %d up to date, %d failures",
		sum.Entries, sum.Fetched, sum.Skipped, len(sum.Failures))

	return sum, nil
}

func (e *Engine) syncEntry(ctx context.Context, resolver *Resolver, ref wiki.TitleRef, runID int64, sum *Summary) {
	sum.Entries++

	dir := resolver.Resolve(ref.Title, ref.PageURL)
	utils.Log.Infof("Processing %s --- %s", dir, ref.Title)

	rec := storage.Record{
		Bucket:  Bucket(ref.Title),
		Title:   ref.Title,
		Dir:     dir,
		PageURL: ref.PageURL,
		RunID:   runID,
	}

	entry, err := e.Wiki.FetchEntry(ctx, ref)
	if err != nil {
		e.fail(sum, &rec, ref.Title, ref.RawURL, err)
		e.record(ctx, rec)
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.fail(sum, &rec, ref.Title, ref.PageURL, err)
		e.record(ctx, rec)
		return
	}

	switch change, err := WriteWikidata(dir, entry.RawWikitext); {
	case err != nil:
		e.fail(sum, &rec, ref.Title, ref.RawURL, err)
	case change == ChangeNew:
		utils.Log.Info("New wiki entry discovered")
	case change == ChangeUpdated:
		utils.Log.Info("Wiki entry was updated compared to previous run")
	default:
		utils.Log.Debug("Wiki entry unchanged")
	}

	if entry.ArchiveURL == "" && len(entry.ArtworkURLs) == 0 {
		utils.Log.Debugf("No assets listed for %q, metadata only", entry.Title)
	}

	for _, item := range Plan(entry, dir, e.Opts) {
		if ctx.Err() != nil {
			break
		}
		e.execute(ctx, dir, item, &rec, sum)
	}

	e.record(ctx, rec)
}

func (e *Engine) execute(ctx context.Context, dir string, item WorkItem, rec *storage.Record, sum *Summary) {
	if item.Action == ActionSkip {
		utils.Log.Debugf("Already downloaded: %s", item.DestPath)
		sum.Skipped++
		e.account(item.Kind, rec)
		return
	}

	var validate func(string) error
	minSize := minArtworkSize
	if item.Kind == KindArchive {
		validate = postproc.ValidateArchive
		minSize = minArchiveSize
	}

	utils.Log.Infof("Fetching <%s>", item.SourceURL)
	n, err := e.Fetch.Download(ctx, item.SourceURL, item.DestPath, minSize, validate)
	if err != nil {
		e.fail(sum, rec, rec.Title, item.SourceURL, err)
		return
	}
	utils.Log.Infof("Saved %d bytes to %s", n, item.DestPath)
	sum.Fetched++
	e.account(item.Kind, rec)

	if e.Post == nil {
		return
	}
	if item.Kind == KindArchive {
		e.Post.ProcessArchive(ctx, dir, item.DestPath)
	} else {
		e.Post.ProcessArtwork(ctx, item.DestPath)
	}
}

func (e *Engine) account(kind Kind, rec *storage.Record) {
	if kind == KindArchive {
		rec.ArchivePresent = true
	} else {
		rec.ArtworkCount++
	}
}

func (e *Engine) fail(sum *Summary, rec *storage.Record, title, url string, err error) {
	utils.Log.Errorf("Couldn't handle <%s>: %s", url, err)
	sum.Failures = append(sum.Failures, Failure{Title: title, URL: url, Err: err})
	rec.Failure = err.Error()
}

func (e *Engine) record(ctx context.Context, rec storage.Record) {
	if e.Store == nil {
		return
	}
	if err := e.Store.RecordEntry(ctx, rec); err != nil {
		utils.Log.Warnf("Couldn't record history for %q: %s", rec.Title, err)
	}
}
