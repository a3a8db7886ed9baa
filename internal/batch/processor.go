package batch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"facturasort/internal/archive"
	"facturasort/internal/contractmap"
	"facturasort/internal/match"
	"facturasort/internal/scan"
	"facturasort/internal/storage"
)

// Record stati beyond the resolver's own classification.
const recordStatusError = "error"

// ErrNoContractMap rejects a batch submitted before any spreadsheet was
// loaded.
var ErrNoContractMap = errors.New("no contract map loaded; upload the spreadsheet first")

// ErrNoFiles rejects a batch with nothing to process.
var ErrNoFiles = errors.New("no files in batch")

// Upload is one incoming file of a batch request.
type Upload struct {
	Name   string
	Reader io.Reader
}

// TextExtractor produces the first-page plain text of a PDF on disk. Failures
// are swallowed into "no tokens found"; they never fail the batch.
type TextExtractor func(path string) (string, error)

// Processor accepts batches, saves their files into the destination
// namespace, and runs the matching-and-renaming pass over them. At most one
// pass mutates the namespace at a time.
type Processor struct {
	dest    *storage.Dir
	maps    *contractmap.Store
	logger  *slog.Logger
	extract TextExtractor
	sched   *Scheduler

	// passMu serializes processing passes across submissions.
	passMu sync.Mutex

	mu      sync.Mutex
	job     *Job
	results []FileRecord
}

// New builds a processor with the default PDF text extractor and a background
// scheduler. Pass a nil scheduler to run every pass inline.
func New(dest *storage.Dir, maps *contractmap.Store, logger *slog.Logger, sched *Scheduler) *Processor {
	return NewWithDependencies(dest, maps, logger, scan.FirstPageTextFile, sched)
}

// NewWithDependencies allows injecting the text extractor (used in tests).
func NewWithDependencies(dest *storage.Dir, maps *contractmap.Store, logger *slog.Logger, extract TextExtractor, sched *Scheduler) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		dest:    dest,
		maps:    maps,
		logger:  logger.With("component", "batch"),
		extract: extract,
		sched:   sched,
	}
}

// Submit validates and accepts a batch: every upload is saved into the
// destination namespace immediately, then the processing pass is handed to the
// scheduler. The returned job supersedes any previous one; only its summary
// and results are tracked from here on. With a nil scheduler the pass runs
// before Submit returns, producing the same records the background path would.
func (p *Processor) Submit(uploads []Upload) (*Job, error) {
	if p.maps.Snapshot().Len() == 0 {
		return nil, ErrNoContractMap
	}
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	saved, err := p.saveUploads(uploads)
	if err != nil {
		return nil, err
	}

	job := newJob()
	p.mu.Lock()
	p.job = job
	p.mu.Unlock()

	pass := func() { p.run(job, saved) }
	switch {
	case p.sched == nil:
		pass()
	case p.sched.TrySubmit(pass):
	default:
		// Pending slot full; run on our own goroutine, still serialized
		// by passMu.
		go pass()
	}
	return job, nil
}

// savedUpload tracks where an accepted file landed and the name it was
// uploaded under.
type savedUpload struct {
	originalName string
	storedName   string
}

// saveUploads writes every upload to the namespace. Stored names are
// allocated sequentially against one snapshot so the parallel writes target
// distinct files.
func (p *Processor) saveUploads(uploads []Upload) ([]savedUpload, error) {
	taken, err := p.dest.Names()
	if err != nil {
		return nil, err
	}

	saved := make([]savedUpload, 0, len(uploads))
	readers := make([]io.Reader, 0, len(uploads))
	for _, u := range uploads {
		name := match.SanitizeName(filepath.Base(u.Name))
		if name == "" || name == "." {
			continue
		}
		stored := storage.AllocateName(name, taken, time.Now())
		taken[stored] = struct{}{}
		saved = append(saved, savedUpload{originalName: name, storedName: stored})
		readers = append(readers, u.Reader)
	}
	if len(saved) == 0 {
		return nil, ErrNoFiles
	}

	var g errgroup.Group
	for i := range saved {
		stored, reader := saved[i].storedName, readers[i]
		g.Go(func() error {
			_, err := p.dest.Write(stored, reader)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("save uploads: %w", err)
	}
	return saved, nil
}

// workItem is one PDF of the working set: either a direct upload already in
// the namespace or a member extracted from an archive.
type workItem struct {
	srcPath      string
	originalName string
	failure      error
}

// run executes the processing pass for job. Passes never overlap: the pass
// mutex covers every namespace mutation.
func (p *Processor) run(job *Job, saved []savedUpload) {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processing pass panicked", "panic", r)
			job.fail()
		}
	}()

	snapshot := p.maps.Snapshot()
	var (
		records  []FileRecord
		summary  Summary
		items    []workItem
		cleanups []func()
	)
	defer func() {
		for _, release := range cleanups {
			release()
		}
	}()

	// Phase 1: expand archives into the working set; a corrupt container is
	// one failed record, not a failed batch.
	for _, s := range saved {
		switch p.uploadKind(s.storedName) {
		case kindArchive:
			entries, cleanup, err := archive.Expand(p.dest.Path(s.storedName), p.dest.Root())
			if err != nil {
				p.logger.Warn("archive expansion failed", "file", s.originalName, "error", err)
				records = append(records, FileRecord{
					OriginalName: s.originalName,
					NewName:      s.storedName,
					Status:       recordStatusError,
					Detail:       err.Error(),
					Contract:     "N/A",
					Location:     "N/A",
				})
				summary.Errors++
				continue
			}
			cleanups = append(cleanups, cleanup)
			for _, e := range entries {
				items = append(items, workItem{srcPath: e.Path, originalName: e.Name, failure: e.Err})
			}
			if err := p.dest.Delete(s.storedName); err != nil {
				p.logger.Warn("could not remove processed archive", "file", s.storedName, "error", err)
			}
		case kindPDF:
			items = append(items, workItem{srcPath: p.dest.Path(s.storedName), originalName: s.originalName})
		default:
			p.logger.Debug("discarding unsupported upload", "file", s.storedName)
			_ = p.dest.Delete(s.storedName)
		}
	}

	// Phase 2: sequential per-file matching and renaming. The namespace
	// snapshot is retaken for each file, so allocation only races against
	// writers outside this process.
	for _, item := range items {
		rec := p.processOne(item, snapshot)
		if rec.Status == recordStatusError {
			summary.Errors++
		}
		summary.Processed++
		records = append(records, rec)
	}

	p.mu.Lock()
	p.results = records
	p.mu.Unlock()
	job.complete(summary)

	p.logger.Info("batch completed",
		"job", job.ID.String(),
		"processed", summary.Processed,
		"errors", summary.Errors,
	)
}

func (p *Processor) processOne(item workItem, snapshot *contractmap.Map) FileRecord {
	rec := FileRecord{
		OriginalName: item.originalName,
		NewName:      item.originalName,
		Contract:     "N/A",
		Location:     "N/A",
	}

	if item.failure != nil {
		rec.Status = recordStatusError
		rec.Detail = item.failure.Error()
		return rec
	}

	text, err := p.extract(item.srcPath)
	if err != nil {
		// Unreadable PDFs are "no tokens", never an error.
		p.logger.Debug("pdf text extraction failed", "file", item.originalName, "error", err)
		text = ""
	}
	tokens := scan.Extract(text)
	outcome := match.Resolve(tokens.Contracts, tokens.Invoice, item.originalName, snapshot)

	rec.Status = string(outcome.Status)
	rec.InvoiceNumber = tokens.Invoice
	switch outcome.Status {
	case match.StatusRenamed:
		rec.Contract = outcome.Contract
		rec.Location = outcome.Location
	case match.StatusUnmatched:
		rec.Detail = "contracts " + strings.Join(outcome.Candidates, ", ") + " not in spreadsheet"
	}

	final := filepath.Base(outcome.TargetName)
	if item.srcPath != p.dest.Path(final) {
		taken, err := p.dest.Names()
		if err != nil {
			rec.Status = recordStatusError
			rec.Detail = err.Error()
			return rec
		}
		final = storage.AllocateName(final, taken, time.Now())
		if err := p.dest.MoveIn(item.srcPath, final); err != nil {
			p.logger.Warn("could not move file into place", "file", item.originalName, "error", err)
			rec.Status = recordStatusError
			rec.Detail = err.Error()
			return rec
		}
	}
	rec.NewName = final
	return rec
}

type uploadKind int

const (
	kindOther uploadKind = iota
	kindPDF
	kindArchive
)

// uploadKind classifies a stored upload by extension, falling back to content
// sniffing when the extension says nothing.
func (p *Processor) uploadKind(storedName string) uploadKind {
	switch {
	case archive.IsContainer(storedName):
		return kindArchive
	case strings.EqualFold(filepath.Ext(storedName), ".pdf"):
		return kindPDF
	}
	mt, err := mimetype.DetectFile(p.dest.Path(storedName))
	if err != nil {
		return kindOther
	}
	switch {
	case mt.Is("application/pdf"):
		return kindPDF
	case mt.Is("application/zip"):
		return kindArchive
	}
	return kindOther
}

// Status reports whether the most recent job is still running and its
// summary. Before any submission it reports an idle, zeroed summary.
func (p *Processor) Status() (running bool, status Status, summary Summary) {
	p.mu.Lock()
	job := p.job
	p.mu.Unlock()
	if job == nil {
		return false, StatusIdle, Summary{}
	}
	st, sum := job.Snapshot()
	return st == StatusRunning, st, sum
}

// Results returns the records of the most recently completed pass.
func (p *Processor) Results() []FileRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FileRecord, len(p.results))
	copy(out, p.results)
	return out
}
