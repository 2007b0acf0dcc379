package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/thread2text/ingest"
	"github.com/brettboylen/thread2text/models"
	"github.com/brettboylen/thread2text/render"
)

const outputExt = ".txt"

// ErrNoInputFiles is returned when the input directory has nothing to convert
var ErrNoInputFiles = errors.New("input dir does not contain .json/.yaml files")

// ErrOverlappingDirs is returned when the output dir is, contains or is inside the input dir
var ErrOverlappingDirs = errors.New("output dir overlaps input dir")

// Ledger records the outcome of each converted file
type Ledger interface {
	SaveConversion(conv *models.Conversion) error
}

// Config holds the settings for one conversion run
type Config struct {
	InDir   string
	OutDir  string // defaults to <InDir>_out next to InDir
	Options models.Options
}

// Converter converts an archive directory into text files, one per record
type Converter struct {
	inDir  string
	outDir string
	opts   models.Options
	ledger Ledger
	log    *logrus.Logger
	now    func() time.Time
}

// NewConverter creates a new converter. ledger may be nil.
func NewConverter(cfg Config, ledger Ledger, log *logrus.Logger) *Converter {
	outDir := cfg.OutDir
	if outDir == "" {
		outDir = DefaultOutDir(cfg.InDir)
	}

	return &Converter{
		inDir:  cfg.InDir,
		outDir: outDir,
		opts:   cfg.Options,
		ledger: ledger,
		log:    log,
		now:    time.Now,
	}
}

// DefaultOutDir returns the sibling directory "<name>_out" of inDir
func DefaultOutDir(inDir string) string {
	abs, err := filepath.Abs(inDir)
	if err != nil {
		abs = filepath.Clean(inDir)
	}
	return filepath.Join(filepath.Dir(abs), filepath.Base(abs)+"_out")
}

// OutDir returns the directory the converter writes to
func (c *Converter) OutDir() string {
	return c.outDir
}

// Run converts every .json/.yaml/.yml file under the input directory. The
// output directory is emptied first and rebuilt with the same layout. A file
// that fails to convert is logged and skipped; the run carries on.
func (c *Converter) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		InDir:     c.inDir,
		OutDir:    c.outDir,
		StartTime: c.now(),
	}

	c.log.WithField("in_dir", c.inDir).Info("Scanning for .json/.yaml files")

	relPaths, err := findInputFiles(c.inDir)
	if err != nil {
		return nil, err
	}
	if len(relPaths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInputFiles, c.inDir)
	}
	summary.Found = len(relPaths)

	if err := c.prepareOutDir(); err != nil {
		return nil, err
	}

	// every file in a run is aged against the same instant
	now := summary.StartTime

	for _, rel := range relPaths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		conv := c.convertFile(rel, now)
		if conv.Status == models.StatusOK {
			summary.Converted++
		} else {
			summary.Failed++
		}

		if c.ledger != nil {
			if err := c.ledger.SaveConversion(conv); err != nil {
				c.log.WithError(err).WithField("file", rel).Error("Failed to record conversion")
			}
		}
	}

	summary.Duration = c.now().Sub(summary.StartTime)

	c.log.WithFields(logrus.Fields{
		"found":     summary.Found,
		"converted": summary.Converted,
		"failed":    summary.Failed,
		"out_dir":   c.outDir,
		"duration":  summary.Duration.String(),
	}).Info("Conversion finished")

	return summary, nil
}

// convertFile converts a single input file; the returned conversion always
// describes the outcome, including failures
func (c *Converter) convertFile(rel string, now time.Time) *models.Conversion {
	src := filepath.Join(c.inDir, rel)
	conv := &models.Conversion{
		SourcePath:  src,
		Kind:        "unknown",
		ConvertedAt: c.now(),
	}

	c.log.WithField("file", src).Info("Converting")

	if err := c.convert(src, rel, now, conv); err != nil {
		conv.Status = models.StatusFailed
		conv.Error = err.Error()
		conv.OutputPath = ""
		c.log.WithError(err).WithField("file", src).Error("Failed to convert file")
		return conv
	}

	conv.Status = models.StatusOK
	return conv
}

func (c *Converter) convert(src, rel string, now time.Time, conv *models.Conversion) error {
	format, err := ingest.FormatFromPath(src)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	rec, err := ingest.Decode(data, format)
	if err != nil {
		return err
	}
	describe(rec, conv)

	text, err := render.Render(rec, c.opts, now)
	if err != nil {
		return err
	}

	out := filepath.Join(c.outDir, rel+outputExt)
	if err := os.WriteFile(out, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	conv.OutputPath = out

	return nil
}

func describe(rec models.Record, conv *models.Conversion) {
	conv.RecordID = rec.RecordID()
	switch r := rec.(type) {
	case *models.Post:
		conv.Kind = "post"
		conv.Title = r.Title
		conv.Author = r.Author
		conv.CommentCount = models.CountComments(r.Comments)
	case *models.Comment:
		conv.Kind = "comment"
		conv.Author = r.Author
		conv.CommentCount = models.CountComments(r.Replies)
	}
}

// findInputFiles returns the archive files under root, relative to root and sorted
func findInputFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, err := ingest.FormatFromPath(path); err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan input dir: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// prepareOutDir removes the output directory and recreates it with the
// directory layout of the input directory
func (c *Converter) prepareOutDir() error {
	inAbs, err := filepath.Abs(c.inDir)
	if err != nil {
		return fmt.Errorf("failed to resolve input dir: %w", err)
	}
	outAbs, err := filepath.Abs(c.outDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output dir: %w", err)
	}
	if isWithin(inAbs, outAbs) || isWithin(outAbs, inAbs) {
		return fmt.Errorf("%w: %s and %s", ErrOverlappingDirs, c.outDir, c.inDir)
	}

	if err := os.RemoveAll(c.outDir); err != nil {
		return fmt.Errorf("failed to empty output dir: %w", err)
	}

	err = filepath.WalkDir(c.inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.inDir, path)
		if err != nil {
			return err
		}
		return os.MkdirAll(filepath.Join(c.outDir, rel), 0755)
	})
	if err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	c.log.WithField("out_dir", c.outDir).Debug("Output dir recreated")
	return nil
}

// isWithin reports whether path is dir or is inside dir
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
