// Package postproc runs best-effort steps on freshly fetched assets:
// archive extraction, image optimization and operator-visible tagging
// of problematic directories. Each capability is backed by an external
// executable probed at startup; when the binary is missing the step
// degrades to a no-op. Nothing in this package ever fails a sync.
package postproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/exotica-tools/exomirror/internal/utils"
)

// ErrNotArchive is returned when a downloaded file fails the LHA
// signature check.
var ErrNotArchive = errors.New("not an LHA archive")

// ValidateArchive checks the LHA magic ("-lh?-" at offset 2) before a
// download is placed under its final name. Catches HTML error pages and
// other junk served with a 200.
func ValidateArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var header [7]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	if header[2] != '-' || header[3] != 'l' || header[4] != 'h' || header[6] != '-' {
		return ErrNotArchive
	}
	return nil
}

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Optimizer shrinks an image file in place.
type Optimizer interface {
	Optimize(ctx context.Context, path string) error
}

// Tagger marks a directory for operator triage.
type Tagger interface {
	Tag(ctx context.Context, dir string) error
}

type execExtractor struct{ bin string }

// Extract unpacks into a staging directory first, then moves the
// contents flat into destDir. Most UnExoticA archives wrap everything
// in a single top-level directory named after the game; that wrapper is
// stripped so the entry directory holds the files directly.
func (e *execExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	staging, err := os.MkdirTemp(destDir, ".extract-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	cmd := exec.CommandContext(ctx, e.bin, "-xw="+staging, archivePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("lha extraction failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return flatten(staging, destDir)
}

// flatten moves extracted contents from src into destDir. A single
// top-level directory is treated as a redundant wrapper and its
// contents are moved instead. Entries that would land outside destDir
// are refused; archives are fetched from the network and must not be
// able to write above the entry directory.
func flatten(src, destDir string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(src, entries[0].Name())
		if entries, err = os.ReadDir(src); err != nil {
			return err
		}
	}

	for _, ent := range entries {
		target := filepath.Join(destDir, ent.Name())
		if err := ensureWithin(destDir, target); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(src, ent.Name()), target); err != nil {
			return err
		}
	}
	return nil
}

// ensureWithin rejects a target path that resolves outside base.
func ensureWithin(base, target string) error {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to place %q outside %q", target, base)
	}
	return nil
}

type execOptimizer struct{ bin string }

func (o *execOptimizer) Optimize(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, o.bin, "--totals", "--preserve", "--preserve-perms", "--strip-all", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("jpegoptim failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

type execTagger struct{ bin string }

func (t *execTagger) Tag(ctx context.Context, dir string) error {
	return exec.CommandContext(ctx, t.bin, "-a", "Red", dir).Run()
}

type noopExtractor struct{}

func (noopExtractor) Extract(context.Context, string, string) error { return nil }

type noopOptimizer struct{}

func (noopOptimizer) Optimize(context.Context, string) error { return nil }

type noopTagger struct{}

func (noopTagger) Tag(context.Context, string) error { return nil }

// NewExtractor probes for the lha executable.
func NewExtractor() Extractor {
	if bin, err := exec.LookPath("lha"); err == nil {
		return &execExtractor{bin: bin}
	}
	utils.Log.Debug("lha not found, skipping archive extraction")
	return noopExtractor{}
}

// NewOptimizer probes for jpegoptim.
func NewOptimizer() Optimizer {
	if bin, err := exec.LookPath("jpegoptim"); err == nil {
		return &execOptimizer{bin: bin}
	}
	utils.Log.Debug("jpegoptim not found, skipping image optimization")
	return noopOptimizer{}
}

// NewTagger probes for the macOS tag utility.
func NewTagger() Tagger {
	if bin, err := exec.LookPath("tag"); err == nil {
		return &execTagger{bin: bin}
	}
	utils.Log.Debug("tag not found, skipping directory tagging")
	return noopTagger{}
}

// Processor bundles the post-fetch capabilities.
type Processor struct {
	Extractor Extractor
	Optimizer Optimizer
	Tagger    Tagger
}

// NewProcessor builds a Processor from whatever external tools are
// installed.
func NewProcessor() *Processor {
	return &Processor{
		Extractor: NewExtractor(),
		Optimizer: NewOptimizer(),
		Tagger:    NewTagger(),
	}
}

// ProcessArchive extracts a freshly fetched archive into its entry
// directory. On failure the raw archive stays in place and the
// directory gets tagged so the operator can find it later.
func (p *Processor) ProcessArchive(ctx context.Context, dir, archivePath string) {
	if err := p.Extractor.Extract(ctx, archivePath, dir); err != nil {
		utils.Log.Errorf("Couldn't extract <%s>: %s", archivePath, err)
		if terr := p.Tagger.Tag(ctx, dir); terr != nil {
			utils.Log.Debugf("Couldn't tag <%s>: %s", dir, terr)
		}
	}
}

// ProcessArtwork optimizes a freshly fetched box scan in place. JPEG
// only; failures leave the original untouched.
func (p *Processor) ProcessArtwork(ctx context.Context, path string) {
	if !strings.HasSuffix(strings.ToLower(path), ".jpg") {
		return
	}
	if err := p.Optimizer.Optimize(ctx, path); err != nil {
		utils.Log.Warnf("Couldn't optimize box scan <%s>: %s", path, err)
	}
}
