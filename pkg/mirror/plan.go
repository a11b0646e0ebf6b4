package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/exotica-tools/exomirror/pkg/wiki"
)

// ArchiveFileName is the fixed name archives are stored under; the
// presence of this file is what makes the fetch policy skip an entry's
// archive on later runs.
const ArchiveFileName = "archive.lha"

type Kind string

const (
	KindArchive Kind = "archive"
	KindArtwork Kind = "artwork"
)

type Action string

const (
	ActionFetch Action = "fetch"
	ActionSkip  Action = "skip"
)

// WorkItem is one decided unit of retrieval.
type WorkItem struct {
	SourceURL string
	DestPath  string
	Kind      Kind
	Action    Action
}

// Options configure a sync run.
type Options struct {
	// Filter limits the run to matching titles. Compiled
	// case-insensitively by the CLI. Nil matches everything.
	Filter *regexp.Regexp

	// SkipCDDA omits archives flagged as containing CD audio rips.
	SkipCDDA bool

	// Limit caps the number of entries per run; 0 means no cap.
	Limit int
}

// Plan decides, per asset, whether a fetch is needed. The archive item
// always comes before artwork so a partially completed entry is
// recognizable. An asset whose destination file already exists is never
// re-fetched; a due, unfiltered asset is never dropped.
func Plan(entry wiki.Entry, dir string, opts Options) []WorkItem {
	if opts.Filter != nil && !opts.Filter.MatchString(entry.Title) {
		return nil
	}

	var items []WorkItem

	if entry.ArchiveURL != "" && !(opts.SkipCDDA && entry.HasCDDA) {
		dest := filepath.Join(dir, ArchiveFileName)
		items = append(items, WorkItem{
			SourceURL: entry.ArchiveURL,
			DestPath:  dest,
			Kind:      KindArchive,
			Action:    actionFor(dest),
		})
	}

	for i, src := range entry.ArtworkURLs {
		dest := filepath.Join(dir, ArtworkFileName(i, src))
		items = append(items, WorkItem{
			SourceURL: src,
			DestPath:  dest,
			Kind:      KindArtwork,
			Action:    actionFor(dest),
		})
	}

	return items
}

func actionFor(dest string) Action {
	if _, err := os.Stat(dest); err == nil {
		return ActionSkip
	}
	return ActionFetch
}

// ArtworkFileName names the i-th box scan of an entry. The extension
// comes from the source link; anything that is not a known image type
// gets .unknown so the operator can spot it.
func ArtworkFileName(i int, src string) string {
	ext := ".unknown"
	lower := strings.ToLower(src)
	if strings.HasSuffix(lower, ".jpg") {
		ext = ".jpg"
	} else if strings.HasSuffix(lower, ".png") {
		ext = ".png"
	}
	if i == 0 {
		return "Cover" + ext
	}
	return fmt.Sprintf("Cover%d%s", i+1, ext)
}
