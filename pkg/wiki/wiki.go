// Package wiki discovers the UnExoticA catalog: the master title index
// and, per title, the archive link, box scans and raw metadata exposed
// by the wiki entry page.
package wiki

import (
	"context"
	"net/url"
	"strings"

	"github.com/exotica-tools/exomirror/pkg/fetch"
)

const (
	defaultWikiBase  = "https://www.exotica.org.uk"
	defaultFilesBase = "https://files.exotica.org.uk/"
)

// TitleRef is one row of the catalog index.
type TitleRef struct {
	Title   string
	PageURL string
	RawURL  string
}

// Entry is one fully discovered catalog entry. Optional fields stay
// empty when the entry page is missing or malformed; discovery never
// aborts over a single bad page.
type Entry struct {
	Title       string
	PageURL     string
	ArchiveURL  string
	ArtworkURLs []string
	HasCDDA     bool

	// RawWikitext is the entry page exactly as served, persisted
	// verbatim as wikidata.txt.
	RawWikitext []byte

	// Fields holds the labeled template parameters of the entry page,
	// stored without interpretation.
	Fields map[string]string
}

// Client crawls the wiki. The base URLs are exported so tests can point
// it at a fake server.
type Client struct {
	IndexURL  string
	WikiBase  string
	FilesBase string
	APIBase   string

	fetcher *fetch.Client
}

// New returns a Client bound to the real exotica.org.uk hosts.
func New(f *fetch.Client) *Client {
	return &Client{
		IndexURL:  defaultWikiBase + "/mediawiki/index.php?title=UnExoticA/Games_By_Title/ALL",
		WikiBase:  defaultWikiBase,
		FilesBase: defaultFilesBase,
		APIBase:   defaultWikiBase + "/mediawiki/api.php",
		fetcher:   f,
	}
}

// DiscoverTitles fetches and parses the catalog index. Re-running
// re-crawls from scratch.
func (c *Client) DiscoverTitles(ctx context.Context) ([]TitleRef, error) {
	body, err := c.fetcher.Get(ctx, c.IndexURL)
	if err != nil {
		return nil, err
	}
	return c.parseIndex(body)
}

// FetchEntry fetches the raw wikitext for one title and extracts its
// asset links. The returned Entry is partial when parsing comes up
// short; only the page fetch itself can error.
func (c *Client) FetchEntry(ctx context.Context, ref TitleRef) (Entry, error) {
	raw, err := c.fetcher.Get(ctx, ref.RawURL)
	if err != nil {
		return Entry{Title: ref.Title, PageURL: ref.PageURL}, err
	}
	return c.parseEntry(ref, raw), nil
}

// rawPageURL builds the action=raw URL for a wiki title. MediaWiki page
// titles use underscores in URLs.
func (c *Client) rawPageURL(title string) string {
	v := url.Values{}
	v.Set("title", strings.ReplaceAll(title, " ", "_"))
	v.Set("action", "raw")
	return c.WikiBase + "/mediawiki/index.php?" + v.Encode()
}

// archiveDownloadURL rewrites a wikitext file link into the download
// frontend URL, e.g. media/audio/UnExoticA/Game/Riley_Mark/Zool.lha
// becomes https://files.exotica.org.uk/?file=exotica%2Fmedia%2F...
func (c *Client) archiveDownloadURL(filelink string) string {
	v := url.Values{}
	v.Set("file", "exotica/"+filelink)
	return c.FilesBase + "?" + v.Encode()
}

// artworkURL builds a direct-download link for an uploaded wiki file.
func (c *Client) artworkURL(name string) string {
	return c.WikiBase + "/wiki/Special:Redirect/file/" + url.PathEscape(name)
}
