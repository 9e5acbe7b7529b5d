package redline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// NoChangesMessage is recorded on jobs whose instruction produced no edits.
const NoChangesMessage = "No changes needed for this instruction"

// DefaultAuthor attributes applied revisions when the caller names nobody.
const DefaultAuthor = "AI Legal Assistant"

const (
	defaultOracleTimeout   = 2 * time.Minute
	defaultFinalizeTimeout = 10 * time.Second
)

// JobStore persists jobs and their patch sets. Transition must be an atomic
// compare-and-set on the current status; when fields.PatchSet is set it is
// stored in the same write.
type JobStore interface {
	CreateJob(ctx context.Context, documentRef, instruction string, at time.Time) (Job, error)
	LoadJob(ctx context.Context, id string) (Job, error)
	Transition(ctx context.Context, id string, from, to JobStatus, fields TransitionFields) (Job, error)
	FindStuck(ctx context.Context, startedBefore time.Time) ([]Job, error)
}

// DocumentAccess reads snapshots and commits new versions. Commit must fail
// with ErrSnapshotMismatch when basedOn is no longer the latest version.
type DocumentAccess interface {
	Fetch(ctx context.Context, ref string) (Snapshot, error)
	Commit(ctx context.Context, ref string, basedOn int, paragraphs []Paragraph) ([]byte, error)
}

// EditOracle proposes paragraph edits for an instruction. Its output is
// untrusted: ids may be out of range, duplicated or no-ops.
type EditOracle interface {
	Propose(ctx context.Context, snap Snapshot, instruction string) ([]ParagraphEdit, error)
}

// Pipeline drives jobs from submission to a terminal state and applies the
// resulting patch sets.
type Pipeline struct {
	Jobs       JobStore
	Documents  DocumentAccess
	Oracle     EditOracle
	Builder    PatchBuilder
	Applicator Applicator
	Logger     *slog.Logger

	// OracleTimeout bounds one Propose call.
	OracleTimeout time.Duration
	// FinalizeTimeout bounds recording a terminal state after the run's own
	// context is gone.
	FinalizeTimeout time.Duration

	Now func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Pipeline) log() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}

func (p *Pipeline) oracleTimeout() time.Duration {
	if p.OracleTimeout <= 0 {
		return defaultOracleTimeout
	}
	return p.OracleTimeout
}

func (p *Pipeline) finalizeTimeout() time.Duration {
	if p.FinalizeTimeout <= 0 {
		return defaultFinalizeTimeout
	}
	return p.FinalizeTimeout
}

// Submit validates the request, checks the document exists and records a
// Pending job.
func (p *Pipeline) Submit(ctx context.Context, documentRef, instruction string) (Job, error) {
	documentRef = strings.TrimSpace(documentRef)
	instruction = strings.TrimSpace(instruction)
	if documentRef == "" {
		return Job{}, fmt.Errorf("Submit: empty document reference: %w", ErrInvalidInput)
	}
	if instruction == "" {
		return Job{}, fmt.Errorf("Submit: empty instruction: %w", ErrInvalidInput)
	}
	if _, err := p.Documents.Fetch(ctx, documentRef); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
			return Job{}, fmt.Errorf("Submit: document %q: %w", documentRef, err)
		}
		return Job{}, Upstream("fetch document", err)
	}

	job, err := p.Jobs.CreateJob(ctx, documentRef, instruction, p.now())
	if err != nil {
		return Job{}, Upstream("create job", err)
	}
	p.log().Info("job submitted", "job_id", job.ID, "document_ref", documentRef)
	return job, nil
}

// Run executes a Pending job to a terminal state. Every failure inside the run
// is recorded on the job as Failed; Run itself errors only when the job cannot
// be loaded, is already being processed, or its outcome cannot be stored.
// A job that is already terminal is returned unchanged.
func (p *Pipeline) Run(ctx context.Context, jobID string) (Job, error) {
	job, err := p.Jobs.LoadJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if job.Status != StatusPending {
		return job, fmt.Errorf("Run: job %s is %s: %w", jobID, job.Status, ErrInvalidTransition)
	}

	job, err = p.Jobs.Transition(ctx, jobID, StatusPending, StatusProcessing, TransitionFields{At: p.now()})
	if err != nil {
		return Job{}, err
	}
	logger := p.log().With("job_id", job.ID, "document_ref", job.DocumentRef)
	logger.Info("job processing")

	out, perr := p.process(ctx, job, logger)
	if perr == nil {
		done, err := p.Jobs.Transition(ctx, jobID, StatusProcessing, StatusCompleted, TransitionFields{
			At:              p.now(),
			Message:         out.message,
			SnapshotVersion: &out.version,
			PatchSet:        out.patchSet,
		})
		if err == nil {
			logger.Info("job completed", "patches", len(out.patchSet.Patches), "snapshot_version", out.version)
			return done, nil
		}
		perr = Upstream("record completion", err)
	}
	return p.fail(ctx, job, perr, logger)
}

// fail records cause on job. It runs on a context detached from ctx so that a
// cancelled run still reaches Failed.
func (p *Pipeline) fail(ctx context.Context, job Job, cause error, logger *slog.Logger) (Job, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.finalizeTimeout())
	defer cancel()

	failed, err := p.Jobs.Transition(fctx, job.ID, StatusProcessing, StatusFailed, TransitionFields{
		At:    p.now(),
		Error: cause.Error(),
	})
	if err != nil {
		logger.Error("job failure not recorded", "cause", cause.Error(), "err", err)
		return job, fmt.Errorf("Run: record failure of job %s: %w", job.ID, errors.Join(err, cause))
	}
	logger.Warn("job failed", "kind", string(Classify(cause)), "err", cause.Error())
	return failed, nil
}

type runOutput struct {
	version  int
	message  string
	patchSet *PatchSet
}

func (p *Pipeline) process(ctx context.Context, job Job, logger *slog.Logger) (out runOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	snap, err := p.Documents.Fetch(ctx, job.DocumentRef)
	if err != nil {
		return runOutput{}, Upstream("fetch document", err)
	}

	octx, cancel := context.WithTimeout(ctx, p.oracleTimeout())
	proposed, err := p.Oracle.Propose(octx, snap, job.Instruction)
	cancel()
	if err != nil {
		return runOutput{}, Upstream("edit oracle", err)
	}

	edits := p.filterEdits(snap, proposed, logger)
	out = runOutput{
		version:  snap.Version,
		patchSet: &PatchSet{JobID: job.ID, SnapshotVersion: snap.Version, Patches: []ParagraphPatch{}, CreatedAt: p.now()},
	}
	if len(edits) == 0 {
		out.message = NoChangesMessage
		return out, nil
	}

	batch := p.Builder.BuildBatch(edits)
	if err := batch.Err(); err != nil {
		for _, id := range batch.InvalidIDs {
			logger.Warn("patch failed validation", "paragraph_id", id)
		}
		return runOutput{}, err
	}
	out.patchSet.Patches = batch.Patches
	return out, nil
}

// filterEdits drops oracle output that cannot become a patch of snap and pins
// the rest to the snapshot: original text is taken from the paragraph itself.
func (p *Pipeline) filterEdits(snap Snapshot, proposed []ParagraphEdit, logger *slog.Logger) []ParagraphEdit {
	seen := make(map[int]bool, len(proposed))
	out := make([]ParagraphEdit, 0, len(proposed))
	for _, e := range proposed {
		id := e.ParagraphID
		switch {
		case !snap.InRange(id):
			logger.Warn("edit discarded", "paragraph_id", id, "reason", "out of range", "paragraphs", snap.Len())
			continue
		case seen[id]:
			logger.Warn("edit discarded", "paragraph_id", id, "reason", "duplicate paragraph")
			continue
		}
		seen[id] = true

		text := snap.Paragraphs[id].Text
		if e.OriginalText != text {
			logger.Warn("edit original text differs from snapshot", "paragraph_id", id)
		}
		if e.ReplacementText == text {
			logger.Debug("edit discarded", "paragraph_id", id, "reason", "no change")
			continue
		}
		e.OriginalText = text
		e.SnapshotVersion = snap.Version
		out = append(out, e)
	}
	return out
}

// Preview returns the patch set of a Completed job.
func (p *Pipeline) Preview(ctx context.Context, jobID string) (PatchSet, error) {
	job, err := p.Jobs.LoadJob(ctx, jobID)
	if err != nil {
		return PatchSet{}, err
	}
	if job.Status != StatusCompleted {
		return PatchSet{}, fmt.Errorf("Preview: job %s is %s: %w", jobID, job.Status, ErrNotReady)
	}
	if job.PatchSet == nil {
		return PatchSet{JobID: job.ID, Patches: []ParagraphPatch{}}, nil
	}
	return *job.PatchSet, nil
}

// ApplyResult describes a committed document version.
type ApplyResult struct {
	DocumentRef        string         `json:"document_ref"`
	Version            int            `json:"version"`
	Bytes              []byte         `json:"-"`
	Applied            int            `json:"applied"`
	FailedParagraphIDs []int          `json:"failed_paragraph_ids"`
	Failures           []ApplyFailure `json:"failures,omitempty"`
}

// Apply materializes a Completed job's patch set as tracked changes on the
// snapshot the patches were built against and commits the next version.
// Individual failing patches are reported in the result. When nothing applies
// and something failed, no version is committed. A job that produced no
// patches has nothing to apply and reports ErrNotReady.
func (p *Pipeline) Apply(ctx context.Context, jobID, author string) (ApplyResult, error) {
	ps, err := p.Preview(ctx, jobID)
	if err != nil {
		return ApplyResult{}, err
	}
	if len(ps.Patches) == 0 {
		return ApplyResult{}, fmt.Errorf("Apply: job %s has no patches: %w", jobID, ErrNotReady)
	}
	job, err := p.Jobs.LoadJob(ctx, jobID)
	if err != nil {
		return ApplyResult{}, err
	}
	if strings.TrimSpace(author) == "" {
		author = DefaultAuthor
	}
	logger := p.log().With("job_id", jobID, "document_ref", job.DocumentRef)

	snap, err := p.Documents.Fetch(ctx, job.DocumentRef)
	if err != nil {
		return ApplyResult{}, Upstream("fetch document", err)
	}
	if snap.Version != ps.SnapshotVersion {
		return ApplyResult{}, fmt.Errorf("Apply: patches built for version %d, document is at %d: %w", ps.SnapshotVersion, snap.Version, ErrSnapshotMismatch)
	}

	res := p.Applicator.ApplyBatch(snap.Paragraphs, ps.Patches, author)
	for _, f := range res.Failures {
		logger.Warn("patch not applied", "paragraph_id", f.ParagraphID, "reason", f.Reason)
	}
	if res.Applied == 0 && len(res.Failures) > 0 {
		return ApplyResult{}, fmt.Errorf("Apply: %w", &ApplicationError{Applied: 0, Failures: res.Failures})
	}

	b, err := p.Documents.Commit(ctx, job.DocumentRef, snap.Version, res.Paragraphs)
	if err != nil {
		if errors.Is(err, ErrSnapshotMismatch) {
			return ApplyResult{}, fmt.Errorf("Apply: %w", err)
		}
		return ApplyResult{}, Upstream("commit document", err)
	}
	logger.Info("patches applied", "applied", res.Applied, "failed", len(res.Failures), "version", snap.Version+1)
	return ApplyResult{
		DocumentRef:        job.DocumentRef,
		Version:            snap.Version + 1,
		Bytes:              b,
		Applied:            res.Applied,
		FailedParagraphIDs: res.FailedIDs(),
		Failures:           res.Failures,
	}, nil
}

// FindStuck returns Processing jobs that started more than olderThan ago.
func (p *Pipeline) FindStuck(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	jobs, err := p.Jobs.FindStuck(ctx, p.now().Add(-olderThan))
	if err != nil {
		return nil, Upstream("find stuck jobs", err)
	}
	return jobs, nil
}

// ForceFail moves a Processing job to Failed with reason. It is meant for jobs
// whose worker died; a job that finishes first wins and ForceFail reports
// ErrInvalidTransition.
func (p *Pipeline) ForceFail(ctx context.Context, jobID, reason string) (Job, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "job abandoned by worker"
	}
	job, err := p.Jobs.Transition(ctx, jobID, StatusProcessing, StatusFailed, TransitionFields{At: p.now(), Error: reason})
	if err != nil {
		return Job{}, err
	}
	p.log().Warn("job force-failed", "job_id", jobID, "reason", reason)
	return job, nil
}
