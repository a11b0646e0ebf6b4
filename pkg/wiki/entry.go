package wiki

import (
	"regexp"
	"strings"
)

// BlankBoxscan.png is the wiki's decorative placeholder for entries
// without a scanned cover.
const blankBoxscan = "BlankBoxscan.png"

var (
	archiveLinkRegex = regexp.MustCompile(`\|file=(.*\.lha)\|`)
	boxscanRegex     = regexp.MustCompile(`\|boxscan\d*=(.*\.(?:jpg|png))`)
	fieldRegex       = regexp.MustCompile(`(?m)^\|([A-Za-z][A-Za-z0-9_]*)=(.*)$`)
)

// parseEntry pulls asset links and the labeled metadata block out of
// the raw wikitext of one entry page. Missing pieces leave the
// corresponding Entry fields empty.
func (c *Client) parseEntry(ref TitleRef, raw []byte) Entry {
	entry := Entry{
		Title:       ref.Title,
		PageURL:     ref.PageURL,
		RawWikitext: raw,
		Fields:      make(map[string]string),
	}

	text := string(raw)

	if m := archiveLinkRegex.FindStringSubmatch(text); m != nil {
		link := strings.TrimSpace(m[1])
		entry.ArchiveURL = c.archiveDownloadURL(link)
		entry.HasCDDA = strings.Contains(link, "_CDDA")
	}

	for _, m := range boxscanRegex.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == blankBoxscan {
			continue
		}
		entry.ArtworkURLs = append(entry.ArtworkURLs, c.artworkURL(name))
	}

	for _, m := range fieldRegex.FindAllStringSubmatch(text, -1) {
		entry.Fields[m[1]] = strings.TrimSpace(m[2])
	}

	return entry
}
