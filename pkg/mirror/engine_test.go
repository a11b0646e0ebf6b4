package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exotica-tools/exomirror/pkg/fetch"
	"github.com/exotica-tools/exomirror/pkg/wiki"
)

const (
	zoolPage = `{{Infobox_UnExoticA
|title=Zool
|composer=Patrick Phelan
|file=media/audio/UnExoticA/Game/Phelan_Patrick/Zool.lha|
|boxscan=Zool_Boxscan.jpg
}}
`
	beastPage = `{{Infobox_UnExoticA
|title=Shadow of the Beast
|composer=David Whittaker
|file=media/audio/UnExoticA/Game/Whittaker_David/Shadow_of_the_Beast_CDDA.lha|
|boxscan=Shadow_of_the_Beast_Boxscan.jpg
|boxscan2=Shadow_of_the_Beast_Back.png
}}
`
)

// fakeWiki serves a two-level catalog the way the real site does: a
// rendered index page, raw wikitext per entry, a file download
// frontend and Special:Redirect artwork links.
type fakeWiki struct {
	srv *httptest.Server

	pages     map[string]string // underscored title -> raw wikitext
	badTitles map[string]bool   // titles whose raw page 404s
	indexHTML string

	assetRequests int64
}

func lhaBytes() []byte {
	b := bytes.Repeat([]byte{0x20}, 128)
	copy(b, []byte{0x21, 0x0b, '-', 'l', 'h', '5', '-'})
	return b
}

func newFakeWiki(t *testing.T, titles ...string) *fakeWiki {
	t.Helper()

	// Each row carries a linked composer cell like the real index does;
	// only the first column holds catalog entries.
	var links strings.Builder
	for _, title := range titles {
		href := "/wiki/" + strings.ReplaceAll(title, " ", "_")
		fmt.Fprintf(&links, `<tr><td><a href=%q title=%q>%s</a></td>`, href, title, title)
		fmt.Fprintf(&links, `<td><a href="/wiki/Some_Composer" title="Some Composer">Some Composer</a></td></tr>`)
	}

	f := &fakeWiki{
		pages:     make(map[string]string),
		badTitles: make(map[string]bool),
		indexHTML: `<html><body><div id="mw-content-text">` +
			`<p><a href="/wiki/Special:RecentChanges" title="Special:RecentChanges">changes</a></p>` +
			`<table>` + links.String() + `</table></div></body></html>`,
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/mediawiki/api.php":
			fmt.Fprint(w, `{"query":{"general":{"sitename":"ExoticA","generator":"MediaWiki 1.39.0"}}}`)
		case r.URL.Path == "/mediawiki/index.php":
			q := r.URL.Query()
			if q.Get("action") == "raw" {
				title := q.Get("title")
				if f.badTitles[title] {
					http.NotFound(w, r)
					return
				}
				page, ok := f.pages[title]
				if !ok {
					http.NotFound(w, r)
					return
				}
				fmt.Fprint(w, page)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, f.indexHTML)
		case strings.HasPrefix(r.URL.Path, "/wiki/Special:Redirect/file/"):
			atomic.AddInt64(&f.assetRequests, 1)
			ct := "image/jpeg"
			if strings.HasSuffix(path.Base(r.URL.Path), ".png") {
				ct = "image/png"
			}
			w.Header().Set("Content-Type", ct)
			w.Write(bytes.Repeat([]byte{0xAA}, 64))
		case r.URL.Path == "/files/":
			atomic.AddInt64(&f.assetRequests, 1)
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(lhaBytes())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeWiki) engine(root string, opts Options) *Engine {
	fc := fetch.New(0, 5*time.Second)
	fc.HTTP.RetryWaitMin = time.Millisecond
	fc.HTTP.RetryWaitMax = 5 * time.Millisecond

	wc := wiki.New(fc)
	wc.WikiBase = f.srv.URL
	wc.IndexURL = f.srv.URL + "/mediawiki/index.php?title=UnExoticA/Games_By_Title/ALL"
	wc.FilesBase = f.srv.URL + "/files/"
	wc.APIBase = f.srv.URL + "/mediawiki/api.php"

	return &Engine{Wiki: wc, Fetch: fc, Root: root, Opts: opts}
}

func mustExist(t *testing.T, parts ...string) {
	t.Helper()
	p := filepath.Join(parts...)
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected %s to exist: %v", p, err)
	}
}

func mustNotExist(t *testing.T, parts ...string) {
	t.Helper()
	p := filepath.Join(parts...)
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent", p)
	}
}

func TestRunEndToEnd(t *testing.T) {
	f := newFakeWiki(t, "Zool", "Shadow of the Beast")
	f.pages["Zool"] = zoolPage
	f.pages["Shadow_of_the_Beast"] = beastPage

	root := t.TempDir()
	sum, err := f.engine(root, Options{SkipCDDA: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if sum.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", sum.Entries)
	}
	if len(sum.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", sum.Failures)
	}

	mustExist(t, root, "z", "Zool", "archive.lha")
	mustExist(t, root, "z", "Zool", "Cover.jpg")
	mustExist(t, root, "z", "Zool", "wikidata.txt")

	// The CDDA archive is skipped but artwork still mirrors.
	beastDir := filepath.Join(root, "s", "Shadow of the Beast")
	mustNotExist(t, beastDir, "archive.lha")
	mustExist(t, beastDir, "Cover.jpg")
	mustExist(t, beastDir, "Cover2.png")
	mustExist(t, beastDir, "wikidata.txt")
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFakeWiki(t, "Zool", "Shadow of the Beast")
	f.pages["Zool"] = zoolPage
	f.pages["Shadow_of_the_Beast"] = beastPage

	root := t.TempDir()
	opts := Options{SkipCDDA: true}

	if _, err := f.engine(root, opts).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	downloaded := atomic.LoadInt64(&f.assetRequests)

	sum, err := f.engine(root, opts).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&f.assetRequests); got != downloaded {
		t.Fatalf("second run issued %d extra asset requests", got-downloaded)
	}
	if sum.Fetched != 0 {
		t.Fatalf("second run fetched %d assets, expected 0", sum.Fetched)
	}
	if sum.Skipped == 0 {
		t.Fatalf("second run should have skipped existing assets")
	}
}

func TestRunSurvivesBadEntryPage(t *testing.T) {
	f := newFakeWiki(t, "Agony", "Zool", "Brutal Football")
	f.pages["Zool"] = zoolPage
	f.pages["Brutal_Football"] = "this page lost its infobox somehow\n"
	f.badTitles["Agony"] = true

	root := t.TempDir()
	sum, err := f.engine(root, Options{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if sum.Entries != 3 {
		t.Fatalf("expected all 3 entries attempted, got %d", sum.Entries)
	}
	if len(sum.Failures) != 1 {
		t.Fatalf("expected exactly 1 failure, got %v", sum.Failures)
	}

	mustExist(t, root, "z", "Zool", "archive.lha")

	// A parseable-but-empty page still gets its metadata record so the
	// entry counts as seen.
	mustExist(t, root, "b", "Brutal Football", "wikidata.txt")
	mustNotExist(t, root, "b", "Brutal Football", "archive.lha")
}

func TestRunFilter(t *testing.T) {
	f := newFakeWiki(t, "Zool", "Shadow of the Beast")
	f.pages["Zool"] = zoolPage
	f.pages["Shadow_of_the_Beast"] = beastPage

	root := t.TempDir()
	opts := Options{Filter: regexp.MustCompile(`(?i).*zool.*`)}
	sum, err := f.engine(root, opts).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if sum.Entries != 1 {
		t.Fatalf("expected only the matching entry, got %d", sum.Entries)
	}
	mustExist(t, root, "z", "Zool", "archive.lha")
	mustNotExist(t, root, "s")
}

func TestRunLimit(t *testing.T) {
	f := newFakeWiki(t, "Zool", "Shadow of the Beast")
	f.pages["Zool"] = zoolPage
	f.pages["Shadow_of_the_Beast"] = beastPage

	sum, err := f.engine(t.TempDir(), Options{Limit: 1}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Entries != 1 {
		t.Fatalf("limit not applied, got %d entries", sum.Entries)
	}
}
