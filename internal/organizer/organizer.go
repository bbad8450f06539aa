// Package organizer moves files into category directories and undoes it.
//
// A run enumerates candidate files, extracts and classifies each one, moves
// it into <base>/<category>/ and records the move in the rollback log and the
// tag store. Per-file failures are reported and never stop the run. The
// rollback log and tag store are written once, after every candidate has been
// handled.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pbaille/deskorg/internal/classifier"
	"github.com/pbaille/deskorg/internal/domain"
	"github.com/pbaille/deskorg/internal/extract"
	"github.com/pbaille/deskorg/internal/fsutil"
	"github.com/pbaille/deskorg/internal/rollback"
	"github.com/pbaille/deskorg/internal/tagstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBaseDir is returned when the base directory is missing or not a directory
	ErrBaseDir = errors.New("base directory unusable")
	// ErrPersist is returned when files moved but bookkeeping could not be saved
	ErrPersist = errors.New("persist bookkeeping")
)

// Extractor is the content extraction capability the organizer needs
type Extractor interface {
	extract.Extractor
	Supports(path string) bool
}

// Options names the bookkeeping files and sets parallelism
type Options struct {
	Workers       int
	ExclusionFile string
	SelectionFile string
	// ToolFiles are top-level file names that are never organized
	ToolFiles []string
}

// Deps are the collaborators of an Organizer. Extractor and Classifier may be
// nil when the organizer is only used for rollback.
type Deps struct {
	Extractor  Extractor
	Classifier classifier.Classifier
	Tags       tagstore.Store
	Rollback   *rollback.Log
}

// Organizer runs organize and rollback for one base directory
type Organizer struct {
	fs   afero.Fs
	base string
	opts Options
	deps Deps
	log  *logrus.Entry
}

// New checks that baseDir is a directory and returns an Organizer for it
func New(fs afero.Fs, baseDir string, opts Options, deps Deps, log *logrus.Entry) (*Organizer, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaseDir, err)
	}
	info, err := fs.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrBaseDir, base)
	}
	if deps.Tags == nil || deps.Rollback == nil {
		return nil, errors.New("organizer needs a tag store and a rollback log")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Organizer{
		fs:   fs,
		base: base,
		opts: opts,
		deps: deps,
		log:  log.WithField("base", base),
	}, nil
}

// BaseDir returns the absolute base directory
func (o *Organizer) BaseDir() string {
	return o.base
}

// run holds the state of one organize pass
type run struct {
	excl  *nameMatcher
	known []string
}

// Run organizes the base directory. The report is returned even when
// persisting bookkeeping fails; that case is signalled with ErrPersist.
func (o *Organizer) Run(ctx context.Context) (*domain.Report, error) {
	if o.deps.Extractor == nil || o.deps.Classifier == nil {
		return nil, errors.New("organizer has no extractor or classifier")
	}

	excl, err := o.exclusions()
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}
	selection, err := o.selection()
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}

	sc, err := o.enumerate(excl, selection)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", o.base, err)
	}
	for _, m := range sc.missing {
		o.log.WithField("entry", m).Warn("selected file not found")
	}
	o.log.WithField("files", len(sc.files)).Info("starting organize run")

	r := &run{excl: excl, known: o.knownCategories(excl)}
	o.shareCategories(r)

	o.deps.Rollback.StartGeneration()
	report := &domain.Report{Missing: sc.missing}

	if o.opts.Workers > 1 {
		report.Files = o.processParallel(ctx, r, sc.files)
	} else {
		report.Files = o.processSerial(ctx, r, sc.files)
	}

	// Moves already happened, so bookkeeping is written even if ctx was cancelled
	if err := o.persist(context.WithoutCancel(ctx)); err != nil {
		report.PersistErr = err
		o.log.WithError(err).Error("files were moved but bookkeeping is incomplete; rollback may not cover this run")
		return report, err
	}

	o.log.WithFields(logrus.Fields{
		"moved":  report.Count(domain.StateTagged),
		"failed": len(report.Failures()),
	}).Info("organize run complete")
	return report, nil
}

// processSerial handles each file fully before the next
func (o *Organizer) processSerial(ctx context.Context, r *run, files []string) []domain.FileResult {
	results := make([]domain.FileResult, 0, len(files))
	for _, path := range files {
		if ctx.Err() != nil {
			o.log.WithField("remaining", len(files)-len(results)).Warn("run interrupted")
			break
		}
		res := o.analyze(ctx, r, path)
		if res.State == domain.StateClassified {
			o.apply(r, &res)
		}
		results = append(results, res)
	}
	return results
}

// processParallel extracts and classifies concurrently, then applies moves
// one at a time in candidate order
func (o *Organizer) processParallel(ctx context.Context, r *run, files []string) []domain.FileResult {
	results := make([]domain.FileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, path := range files {
		g.Go(func() error {
			results[i] = o.analyze(gctx, r, path)
			return nil
		})
	}
	_ = g.Wait()

	for i := range results {
		if results[i].State == domain.StateClassified {
			o.apply(r, &results[i])
		}
	}
	return results
}

// analyze extracts and classifies one file. It never touches the filesystem
// beyond reading the file.
func (o *Organizer) analyze(ctx context.Context, r *run, path string) domain.FileResult {
	res := domain.FileResult{Path: path, State: domain.StateDiscovered}
	log := o.log.WithField("file", o.rel(path))

	text, err := o.deps.Extractor.Extract(ctx, path)
	if err != nil {
		return o.fail(log, res, domain.StateExtractionFailed, err)
	}
	res.State = domain.StateExtracted

	label, err := o.deps.Classifier.Classify(ctx, text)
	if err != nil {
		return o.fail(log, res, domain.StateClassificationFailed, err)
	}
	category, err := SanitizeCategory(label)
	if err != nil {
		return o.fail(log, res, domain.StateClassificationFailed, err)
	}
	if r.excl.Match(category) {
		return o.fail(log, res, domain.StateClassificationFailed,
			fmt.Errorf("%w: %q is an excluded directory", ErrInvalidCategory, category))
	}

	res.State = domain.StateClassified
	res.Category = category
	log.WithField("category", category).Debug("classified")
	return res
}

// apply moves a classified file into its category directory and records it
func (o *Organizer) apply(r *run, res *domain.FileResult) {
	log := o.log.WithFields(logrus.Fields{"file": o.rel(res.Path), "category": res.Category})

	dir := filepath.Join(o.base, res.Category)
	created := false
	info, err := o.fs.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		*res = o.fail(log, *res, domain.StateMoveFailed, fmt.Errorf("category path %s is not a directory", dir))
		return
	case err != nil && !errors.Is(err, os.ErrNotExist):
		*res = o.fail(log, *res, domain.StateMoveFailed, fmt.Errorf("stat category dir: %w", err))
		return
	case err != nil:
		if err := o.fs.MkdirAll(dir, 0755); err != nil {
			*res = o.fail(log, *res, domain.StateMoveFailed, fmt.Errorf("create category dir: %w", err))
			return
		}
		created = true
	}

	dst := filepath.Join(dir, filepath.Base(res.Path))
	res.Destination = dst
	if dst == res.Path {
		// already filed under this category
		o.tag(log, res)
		return
	}

	if err := fsutil.Move(o.fs, res.Path, dst); err != nil {
		if created && fsutil.IsEmptyDir(o.fs, dir) {
			_ = o.fs.Remove(dir)
		}
		*res = o.fail(log, *res, domain.StateMoveFailed, err)
		return
	}
	res.State = domain.StateMoved
	o.deps.Rollback.RecordMove(res.Path, dst)

	if created {
		o.deps.Rollback.RecordCreatedDir(dir)
		r.known = append(r.known, res.Category)
		o.shareCategories(r)
	}
	log.WithField("destination", o.rel(dst)).Info("moved")

	o.tag(log, res)
}

func (o *Organizer) tag(log *logrus.Entry, res *domain.FileResult) {
	if err := o.deps.Tags.AddTag(res.Destination, res.Category); err != nil {
		log.WithError(err).Warn("tag file")
		return
	}
	res.State = domain.StateTagged
}

// shareCategories passes the known categories to classifiers that use them
func (o *Organizer) shareCategories(r *run) {
	if ca, ok := o.deps.Classifier.(classifier.CategoryAware); ok {
		ca.SetKnownCategories(r.known)
	}
}

func (o *Organizer) fail(log *logrus.Entry, res domain.FileResult, state domain.FileState, err error) domain.FileResult {
	log.WithError(err).WithField("state", state).Warn("file skipped")
	res.State = state
	res.Err = err
	return res
}

// persist writes the rollback log then the tag store, attempting both
func (o *Organizer) persist(ctx context.Context) error {
	var errs []error
	if err := o.deps.Rollback.Persist(ctx); err != nil {
		errs = append(errs, fmt.Errorf("write rollback log: %w", err))
	}
	if err := o.deps.Tags.Save(ctx); err != nil {
		errs = append(errs, fmt.Errorf("save tags: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPersist, errors.Join(errs...))
}

// Rollback restores the files moved by the last run. Tag entries pointing at
// the old destinations are left in place.
func (o *Organizer) Rollback(ctx context.Context) (*rollback.Result, error) {
	res, err := o.deps.Rollback.Rollback(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failed {
		o.log.WithError(f.Err).WithField("file", o.rel(f.Entry.Current)).Warn("could not restore")
	}
	o.log.WithFields(logrus.Fields{
		"restored": len(res.Restored),
		"failed":   len(res.Failed),
	}).Info("rollback complete")
	return res, nil
}

// rel returns path relative to the base directory for log output
func (o *Organizer) rel(path string) string {
	if rel, err := filepath.Rel(o.base, path); err == nil {
		return rel
	}
	return path
}
