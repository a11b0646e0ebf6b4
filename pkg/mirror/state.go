package mirror

import (
	"bytes"
	"os"
	"path/filepath"
)

// WikidataFileName holds the verbatim wikitext dump of an entry. Its
// presence marks the entry as seen by a previous run, independent of
// whether any binary assets exist.
const WikidataFileName = "wikidata.txt"

type Change string

const (
	ChangeNew       Change = "new"
	ChangeUpdated   Change = "updated"
	ChangeUnchanged Change = "unchanged"
)

// WriteWikidata persists the raw metadata block for an entry, reporting
// whether the wiki content changed since the previous run. A changed
// dump does not trigger binary re-fetches; there is no content-hash or
// last-modified comparison for assets, so stale archives stay as they
// are until deleted by the operator.
func WriteWikidata(dir string, raw []byte) (Change, error) {
	path := filepath.Join(dir, WikidataFileName)

	old, err := os.ReadFile(path)
	existed := err == nil
	if existed && bytes.Equal(old, raw) {
		return ChangeUnchanged, nil
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}

	if existed {
		return ChangeUpdated, nil
	}
	return ChangeNew, nil
}
