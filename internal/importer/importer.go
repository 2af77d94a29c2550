// Package importer learns prompt/response pairs from transcript files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hyperjump/kotoba/internal/fileid"
	"github.com/hyperjump/kotoba/internal/models"
	"github.com/hyperjump/kotoba/internal/responder"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 1000

// Learner is the part of the response store the importer needs.
type Learner interface {
	Insert(ctx context.Context, prompt string, response models.Response) error
}

// Records remembers which version of each file was imported.
type Records interface {
	ImportFingerprint(ctx context.Context, fileID string) (string, bool, error)
	SetImportFingerprint(ctx context.Context, fileID, fingerprint string) error
}

// Importer feeds transcripts into a Learner.
type Importer struct {
	learner     Learner
	records     Records
	concurrency int
	logger      *zap.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets a logger for progress and per-file events.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithConcurrency sets how many inserts run at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(im *Importer) { im.concurrency = n }
}

// New creates an importer. records may be nil, in which case every file is
// imported whenever it is seen.
func New(learner Learner, records Records, opts ...Option) *Importer {
	im := &Importer{
		learner:     learner,
		records:     records,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.concurrency < 1 {
		im.concurrency = 1
	}
	return im
}

// ImportPairs inserts pairs concurrently. Pairs whose prompt has no known
// words are counted as skipped. The first other error stops the import.
func (im *Importer) ImportPairs(ctx context.Context, runID string, pairs []Pair) (inserted, skipped int, err error) {
	var ins, skip, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for _, p := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := im.learner.Insert(gctx, p.Prompt, p.Response)
			switch {
			case errors.Is(err, responder.ErrNoPromptVector):
				skip.Add(1)
			case err != nil:
				return fmt.Errorf("insert %q: %w", p.Prompt, err)
			default:
				ins.Add(1)
			}
			if n := done.Add(1); n%progressEvery == 0 {
				im.logger.Info("import progress",
					zap.String("run_id", runID),
					zap.Int64("pairs_done", n),
					zap.Int("pairs_total", len(pairs)),
				)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(ins.Load()), int(skip.Load()), err
}

// ImportFile learns the pairs in one transcript file. If allowedExts is non-empty
// the file's extension must be in it. A file whose fingerprint matches the one
// recorded at its last import is skipped and reported as Unchanged.
func (im *Importer) ImportFile(ctx context.Context, path string, allowedExts []string) (models.ImportSummary, error) {
	return im.importFile(ctx, uuid.New().String(), path, allowedExts)
}

func (im *Importer) importFile(ctx context.Context, runID, path string, allowedExts []string) (models.ImportSummary, error) {
	summary := models.ImportSummary{RunID: runID}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return summary, fmt.Errorf("absolute path: %w", err)
	}
	summary.Path = absPath
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return summary, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return summary, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return summary, fmt.Errorf("not a regular file: %s", absPath)
	}

	id := fileid.FileID(absPath)
	fingerprint := fileid.Fingerprint(info)
	if im.records != nil {
		previous, ok, err := im.records.ImportFingerprint(ctx, id)
		if err != nil {
			return summary, fmt.Errorf("read import record: %w", err)
		}
		if ok && previous == fingerprint {
			im.logger.Debug("import skipping unchanged file", zap.String("run_id", runID), zap.String("path", absPath))
			summary.Unchanged = true
			return summary, nil
		}
	}

	pairs, err := readPairs(absPath, ext)
	if err != nil {
		return summary, err
	}
	summary.Pairs = len(pairs)
	im.logger.Info("import started",
		zap.String("run_id", runID),
		zap.String("path", absPath),
		zap.Int("pairs", len(pairs)),
	)

	summary.Inserted, summary.Skipped, err = im.ImportPairs(ctx, runID, pairs)
	if err != nil {
		return summary, err
	}
	if im.records != nil {
		if err := im.records.SetImportFingerprint(ctx, id, fingerprint); err != nil {
			return summary, fmt.Errorf("write import record: %w", err)
		}
	}
	im.logger.Info("import finished",
		zap.String("run_id", runID),
		zap.String("path", absPath),
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// ImportDirectory imports every regular file under dir whose extension is in
// allowedExts (all files when empty). Subdirectories are walked only when
// recursive is set. All files share one run id. It stops at the first error.
func (im *Importer) ImportDirectory(ctx context.Context, dir string, allowedExts []string, recursive bool) ([]models.ImportSummary, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	runID := uuid.New().String()
	var summaries []models.ImportSummary
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only import regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		summary, err := im.importFile(ctx, runID, path, allowedExts)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		summaries = append(summaries, summary)
		return nil
	})
	return summaries, err
}

func readPairs(path, ext string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	if ext == ".jsonl" {
		return ReadJSONL(f)
	}
	return ReadTranscript(f)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
