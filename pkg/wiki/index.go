package wiki

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Wiki-internal pages linked from the index that are not game entries.
var skippedNamespaces = []string{
	"File:", "Image:", "Special:", "Category:", "Help:", "Template:", "UnExoticA/",
}

// parseIndex extracts (title, page link) pairs from the rendered index
// page. Game links live in the first column of the index table; later
// columns link composer pages, which are not catalog entries. The
// matching stays structural and best-effort: known wiki namespaces and
// duplicates are dropped, and when no table rows are found at all the
// whole content area is scanned so a layout change degrades to
// over-collection rather than an empty catalog.
func (c *Client) parseIndex(body []byte) ([]TitleRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	var refs []TitleRef
	seen := make(map[string]bool)

	sel := doc.Find("#mw-content-text tr > td:first-child a[title]")
	if sel.Length() == 0 {
		sel = doc.Find("#mw-content-text a[title]")
	}

	sel.Each(func(_ int, s *goquery.Selection) {
		title := s.AttrOr("title", "")
		href := s.AttrOr("href", "")
		if title == "" || href == "" || seen[title] || isNamespaced(title) {
			return
		}
		seen[title] = true
		refs = append(refs, TitleRef{
			Title:   title,
			PageURL: c.absoluteURL(href),
			RawURL:  c.rawPageURL(title),
		})
	})

	if len(refs) == 0 {
		return nil, fmt.Errorf("no catalog entries found on index page, layout may have changed")
	}
	return refs, nil
}

func isNamespaced(title string) bool {
	for _, ns := range skippedNamespaces {
		if strings.HasPrefix(title, ns) {
			return true
		}
	}
	return false
}

func (c *Client) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.WikiBase + href
}
