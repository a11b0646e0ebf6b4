package storage

// Record is the per-entry outcome of one sync pass. The filesystem
// stays the source of truth for the fetch policy; these rows only feed
// reporting (the stats command and cross-run failure summaries).
type Record struct {
	Bucket  string
	Title   string
	Dir     string
	PageURL string

	ArchivePresent bool
	ArtworkCount   int

	// Failure is the last per-asset error of this entry, empty when
	// the pass completed cleanly.
	Failure string

	RunID int64
}

// BucketStats aggregates mirror contents per top-level bucket.
type BucketStats struct {
	Bucket   string
	Entries  int
	Archives int
	Failed   int
}

// FailureRow is one unresolved per-entry failure.
type FailureRow struct {
	Title   string
	Dir     string
	Failure string
}
