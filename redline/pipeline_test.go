package redline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type memJobs struct {
	mu   sync.Mutex
	next int
	jobs map[string]Job
	// failTransitionsTo makes Transition into the named status fail.
	failTransitionsTo JobStatus
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]Job{}} }

func (m *memJobs) CreateJob(_ context.Context, ref, instruction string, at time.Time) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	j := Job{ID: fmt.Sprintf("job-%d", m.next), DocumentRef: ref, Instruction: instruction, Status: StatusPending, CreatedAt: at}
	m.jobs[j.ID] = j
	return j, nil
}

func (m *memJobs) LoadJob(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (m *memJobs) Transition(ctx context.Context, id string, from, to JobStatus, f TransitionFields) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if to == m.failTransitionsTo {
		return Job{}, errors.New("disk full")
	}
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if j.Status != from || !CanTransition(from, to) {
		return Job{}, ErrInvalidTransition
	}
	j.Status = to
	at := f.At
	if to == StatusProcessing {
		j.StartedAt = &at
	} else {
		j.CompletedAt = &at
	}
	j.Error, j.Message = f.Error, f.Message
	if f.SnapshotVersion != nil {
		v := *f.SnapshotVersion
		j.SnapshotVersion = &v
	}
	if f.PatchSet != nil {
		ps := *f.PatchSet
		j.PatchSet = &ps
	}
	m.jobs[id] = j
	return j, nil
}

func (m *memJobs) FindStuck(_ context.Context, before time.Time) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(before) {
			out = append(out, j)
		}
	}
	return out, nil
}

type memDocs struct {
	mu       sync.Mutex
	versions map[string][]Snapshot
}

func newMemDocs(ref string, texts ...string) *memDocs {
	paras := make([]Paragraph, len(texts))
	for i, s := range texts {
		paras[i] = Paragraph{ID: i, Text: s}
		if s != "" {
			paras[i].Runs = []Run{{Text: s}}
		}
	}
	return &memDocs{versions: map[string][]Snapshot{ref: {{DocumentRef: ref, Version: 1, Paragraphs: paras}}}}
}

func (d *memDocs) Fetch(_ context.Context, ref string) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vs, ok := d.versions[ref]
	if !ok {
		return Snapshot{}, fmt.Errorf("document %s: %w", ref, ErrNotFound)
	}
	return vs[len(vs)-1].Clone(), nil
}

func (d *memDocs) Commit(_ context.Context, ref string, basedOn int, paras []Paragraph) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vs := d.versions[ref]
	if vs[len(vs)-1].Version != basedOn {
		return nil, ErrSnapshotMismatch
	}
	d.versions[ref] = append(vs, Snapshot{DocumentRef: ref, Version: basedOn + 1, Paragraphs: paras})
	return []byte(joinTexts(paras)), nil
}

func joinTexts(paras []Paragraph) string {
	parts := make([]string, len(paras))
	for i, p := range paras {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}

type oracleFunc func(ctx context.Context, snap Snapshot, instruction string) ([]ParagraphEdit, error)

func (f oracleFunc) Propose(ctx context.Context, snap Snapshot, instruction string) ([]ParagraphEdit, error) {
	return f(ctx, snap, instruction)
}

const contractRef = "employment-agreement"

var contractText = []string{
	"EMPLOYMENT AGREEMENT",
	"This agreement is made between Acme Corporation and John Doe.",
	"",
	"The Employee shall serve as Senior Software Engineer.",
}

func replaceEverywhere(old, new string) EditOracle {
	return oracleFunc(func(_ context.Context, snap Snapshot, _ string) ([]ParagraphEdit, error) {
		var out []ParagraphEdit
		for _, p := range snap.Paragraphs {
			if strings.Contains(p.Text, old) {
				out = append(out, ParagraphEdit{ParagraphID: p.ID, OriginalText: p.Text, ReplacementText: strings.ReplaceAll(p.Text, old, new)})
			}
		}
		return out, nil
	})
}

func newTestPipeline(oracle EditOracle) (*Pipeline, *memJobs, *memDocs) {
	jobs := newMemJobs()
	docs := newMemDocs(contractRef, contractText...)
	return &Pipeline{
		Jobs:       jobs,
		Documents:  docs,
		Oracle:     oracle,
		Builder:    NewPatchBuilder(nil),
		Applicator: testApplicator(),
		Now:        func() time.Time { return fixedNow },
	}, jobs, docs
}

func submitAndRun(t *testing.T, p *Pipeline) Job {
	t.Helper()
	ctx := context.Background()
	job, err := p.Submit(ctx, contractRef, "Change the job title to Principal Software Architect")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("status=%s, want pending", job.Status)
	}
	done, err := p.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return done
}

func TestPipelineRunPreviewApply(t *testing.T) {
	t.Parallel()

	p, _, docs := newTestPipeline(replaceEverywhere("Senior Software Engineer", "Principal Software Architect"))
	job := submitAndRun(t, p)
	if job.Status != StatusCompleted || job.Error != "" || job.Message != "" {
		t.Fatalf("job=%+v", job)
	}
	if job.StartedAt == nil || job.CompletedAt == nil || job.SnapshotVersion == nil || *job.SnapshotVersion != 1 {
		t.Fatalf("job timestamps/version not recorded: %+v", job)
	}

	ps, err := p.Preview(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(ps.Patches) != 1 || ps.Patches[0].ParagraphID != 3 || ps.SnapshotVersion != 1 {
		t.Fatalf("patch set=%+v", ps)
	}
	if got := Preview(ps.Patches[0]); got != "The Employee shall serve as Principal Software Architect." {
		t.Fatalf("preview text=%q", got)
	}

	res, err := p.Apply(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 || res.Version != 2 || len(res.FailedParagraphIDs) != 0 || len(res.Bytes) == 0 {
		t.Fatalf("apply result=%+v", res)
	}
	snap, _ := docs.Fetch(context.Background(), contractRef)
	runs := snap.Paragraphs[3].Runs
	if len(runs) != 2 || runs[0].Revision.Author != DefaultAuthor {
		t.Fatalf("committed runs=%+v", runs)
	}

	// The job's patches target version 1; a second apply must not stack.
	if _, err := p.Apply(context.Background(), job.ID, ""); !errors.Is(err, ErrSnapshotMismatch) {
		t.Fatalf("second Apply err=%v, want ErrSnapshotMismatch", err)
	}
}

func TestPipelineNoEditsCompletes(t *testing.T) {
	t.Parallel()

	p, _, docs := newTestPipeline(oracleFunc(func(context.Context, Snapshot, string) ([]ParagraphEdit, error) {
		return nil, nil
	}))
	job := submitAndRun(t, p)
	if job.Status != StatusCompleted || job.Message != NoChangesMessage || job.Error != "" {
		t.Fatalf("job=%+v", job)
	}
	ps, err := p.Preview(context.Background(), job.ID)
	if err != nil || len(ps.Patches) != 0 {
		t.Fatalf("preview=%+v err=%v", ps, err)
	}

	_, err = p.Apply(context.Background(), job.ID, "")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Apply err=%v, want ErrNotReady", err)
	}
	if n := len(docs.versions[contractRef]); n != 1 {
		t.Fatalf("versions=%d, want 1 (nothing committed)", n)
	}
}

func TestPipelineDiscardsUnusableEdits(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(oracleFunc(func(_ context.Context, snap Snapshot, _ string) ([]ParagraphEdit, error) {
		return []ParagraphEdit{
			{ParagraphID: 99, OriginalText: "x", ReplacementText: "y"},
			{ParagraphID: -1, OriginalText: "x", ReplacementText: "y"},
			{ParagraphID: 0, OriginalText: snap.Paragraphs[0].Text, ReplacementText: snap.Paragraphs[0].Text},
			{ParagraphID: 1, OriginalText: "stale copy", ReplacementText: "This agreement is made between TechCorp Industries and John Doe."},
			{ParagraphID: 1, OriginalText: "dup", ReplacementText: "second proposal"},
		}, nil
	}))
	job := submitAndRun(t, p)
	if job.Status != StatusCompleted {
		t.Fatalf("status=%s err=%s", job.Status, job.Error)
	}
	ps := job.PatchSet
	if ps == nil || len(ps.Patches) != 1 {
		t.Fatalf("patch set=%+v", ps)
	}
	got := ps.Patches[0]
	if got.ParagraphID != 1 || got.OriginalText != contractText[1] || !got.IsValid {
		t.Fatalf("patch=%+v", got)
	}
}

func TestPipelineOracleFailure(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(oracleFunc(func(context.Context, Snapshot, string) ([]ParagraphEdit, error) {
		return nil, errors.New("status 503: model overloaded")
	}))
	job := submitAndRun(t, p)
	if job.Status != StatusFailed {
		t.Fatalf("status=%s", job.Status)
	}
	if !strings.Contains(job.Error, "status 503: model overloaded") {
		t.Fatalf("error=%q, want oracle message preserved", job.Error)
	}
	if job.PatchSet != nil {
		t.Fatalf("failed job has a patch set")
	}
	if _, err := p.Preview(context.Background(), job.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Preview err=%v, want ErrNotReady", err)
	}
}

type corruptDiffer struct{}

func (corruptDiffer) Diff(a, b string) []DiffOp {
	return []DiffOp{{Type: OpInsert, Text: b, Length: len(b)}}
}

func TestPipelineValidationFailureFailsJob(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(replaceEverywhere("Acme Corporation", "TechCorp Industries"))
	p.Builder = NewPatchBuilder(corruptDiffer{})
	job := submitAndRun(t, p)
	if job.Status != StatusFailed || !strings.Contains(job.Error, "failed validation") {
		t.Fatalf("job=%+v", job)
	}
	if job.PatchSet != nil {
		t.Fatalf("invalid batch was persisted")
	}
}

func TestPipelineOraclePanicFailsJob(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(oracleFunc(func(context.Context, Snapshot, string) ([]ParagraphEdit, error) {
		panic("nil map")
	}))
	job := submitAndRun(t, p)
	if job.Status != StatusFailed || !strings.Contains(job.Error, "nil map") {
		t.Fatalf("job=%+v", job)
	}
}

func TestPipelineCancelledRunStillFails(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(oracleFunc(func(ctx context.Context, _ Snapshot, _ string) ([]ParagraphEdit, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	job, err := p.Submit(context.Background(), contractRef, "anything")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	done, err := p.Run(ctx, job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done.Status != StatusFailed || !strings.Contains(done.Error, context.Canceled.Error()) {
		t.Fatalf("job=%+v", done)
	}
}

func TestPipelineOracleTimeout(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(oracleFunc(func(ctx context.Context, _ Snapshot, _ string) ([]ParagraphEdit, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	p.OracleTimeout = 10 * time.Millisecond
	job := submitAndRun(t, p)
	if job.Status != StatusFailed || !strings.Contains(job.Error, "deadline exceeded") {
		t.Fatalf("job=%+v", job)
	}
}

func TestPipelineCompletionNotRecorded(t *testing.T) {
	t.Parallel()

	p, jobs, _ := newTestPipeline(replaceEverywhere("John Doe", "Jane Smith"))
	jobs.failTransitionsTo = StatusCompleted
	job := submitAndRun(t, p)
	if job.Status != StatusFailed || !strings.Contains(job.Error, "disk full") {
		t.Fatalf("job=%+v", job)
	}
}

func TestRunStateGuards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, jobs, _ := newTestPipeline(replaceEverywhere("John Doe", "Jane Smith"))

	if _, err := p.Run(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Run missing err=%v", err)
	}

	done := submitAndRun(t, p)
	again, err := p.Run(ctx, done.ID)
	if err != nil || again.Status != StatusCompleted || !again.CompletedAt.Equal(*done.CompletedAt) {
		t.Fatalf("rerun of terminal job: job=%+v err=%v", again, err)
	}

	busy, _ := p.Submit(ctx, contractRef, "rename")
	if _, err := jobs.Transition(ctx, busy.ID, StatusPending, StatusProcessing, TransitionFields{At: fixedNow}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := p.Run(ctx, busy.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Run processing err=%v, want ErrInvalidTransition", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _, _ := newTestPipeline(replaceEverywhere("a", "b"))

	if _, err := p.Submit(ctx, contractRef, "   "); Classify(err) != KindInvalidInput {
		t.Fatalf("empty instruction err=%v", err)
	}
	if _, err := p.Submit(ctx, "", "do it"); Classify(err) != KindInvalidInput {
		t.Fatalf("empty ref err=%v", err)
	}
	if _, err := p.Submit(ctx, "nope", "do it"); Classify(err) != KindNotFound {
		t.Fatalf("unknown document err=%v", err)
	}
	if _, err := p.Preview(ctx, "missing"); Classify(err) != KindNotFound {
		t.Fatalf("preview missing err=%v", err)
	}
}

func TestApplyNothingAppliedSkipsCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _, docs := newTestPipeline(replaceEverywhere("John Doe", "Jane Smith"))
	job := submitAndRun(t, p)

	// Rewrite the snapshot in place so every patch is stale but the version
	// still matches.
	docs.mu.Lock()
	docs.versions[contractRef][0].Paragraphs[1].Text = "rewritten out of band"
	docs.mu.Unlock()

	_, err := p.Apply(ctx, job.ID, "")
	var ae *ApplicationError
	if !errors.As(err, &ae) || Classify(err) != KindApplicationFailed {
		t.Fatalf("err=%v, want ApplicationError", err)
	}
	if len(docs.versions[contractRef]) != 1 {
		t.Fatalf("a version was committed")
	}
}

func TestFindStuckAndForceFail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, jobs, _ := newTestPipeline(replaceEverywhere("a", "b"))
	job, _ := p.Submit(ctx, contractRef, "rename")
	old := fixedNow.Add(-time.Hour)
	if _, err := jobs.Transition(ctx, job.ID, StatusPending, StatusProcessing, TransitionFields{At: old}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	stuck, err := p.FindStuck(ctx, 30*time.Minute)
	if err != nil || len(stuck) != 1 || stuck[0].ID != job.ID {
		t.Fatalf("stuck=%+v err=%v", stuck, err)
	}
	if got, _ := p.FindStuck(ctx, 2*time.Hour); len(got) != 0 {
		t.Fatalf("stuck with long threshold=%+v", got)
	}

	failed, err := p.ForceFail(ctx, job.ID, "")
	if err != nil || failed.Status != StatusFailed || failed.Error == "" {
		t.Fatalf("ForceFail job=%+v err=%v", failed, err)
	}
	if _, err := p.ForceFail(ctx, job.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second ForceFail err=%v", err)
	}
}
