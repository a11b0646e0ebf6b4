package mirror

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/exotica-tools/exomirror/internal/utils"
)

// FallbackBucket collects titles that do not start with a letter.
const FallbackBucket = "0-9"

// dirName maps a wiki title to a filesystem-safe directory name:
// unsafe characters are substituted, the " (game)" disambiguation
// qualifier is dropped, and leading articles move to the back so
// "The Chaos Engine" sorts under C as "Chaos Engine, The".
func dirName(title string) string {
	d := strings.ReplaceAll(title, ":", " ~")
	d = strings.ReplaceAll(d, "?", "_")
	d = strings.ReplaceAll(d, "/", "_")
	d = strings.ReplaceAll(d, " (game)", "")

	// Skipping German "Die " because it could be "[to] die".
	if _, ok := utils.HasArticlePrefix(d, "The ", "Der ", "Das ", "Les "); ok {
		d = d[4:] + ", " + d[0:3]
	} else if _, ok := utils.HasArticlePrefix(d, "Le "); ok {
		d = d[3:] + ", " + d[0:2]
	} else if _, ok := utils.HasArticlePrefix(d, "A "); ok {
		d = d[2:] + ", " + d[0:1]
	}

	return strings.TrimSpace(d)
}

func bucketOf(dir string) string {
	for _, r := range dir {
		lower := unicode.ToLower(r)
		if lower >= 'a' && lower <= 'z' {
			return string(lower)
		}
		break
	}
	return FallbackBucket
}

// Bucket returns the top-level mirror directory a title sorts into: a
// single lowercase letter, or FallbackBucket for non-alphabetic leads.
func Bucket(title string) string {
	return bucketOf(dirName(title))
}

// Resolver maps titles to canonical mirror directories, keeping enough
// state to disambiguate distinct titles that normalize identically.
type Resolver struct {
	root  string
	taken map[string]string // relative path -> page URL that claimed it
}

func NewResolver(root string) *Resolver {
	return &Resolver{root: root, taken: make(map[string]string)}
}

// Resolve returns the destination directory for a title. Deterministic:
// the same (title, pageURL) pair always yields the same path, and two
// entries never share one. The disambiguation suffix is derived from
// the page URL so it is stable across runs.
func (r *Resolver) Resolve(title, pageURL string) string {
	dir := dirName(title)
	rel := filepath.Join(bucketOf(dir), dir)

	if owner, ok := r.taken[rel]; ok && owner != pageURL {
		dir = fmt.Sprintf("%s [%08x]", dir, hashURL(pageURL))
		rel = filepath.Join(bucketOf(dir), dir)
	}
	r.taken[rel] = pageURL

	return filepath.Join(r.root, rel)
}

func hashURL(u string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(u))
	return h.Sum32()
}
