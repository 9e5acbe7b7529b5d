package redline

import (
	"fmt"
	"time"
)

// Applicator materializes patches into tracked-change paragraphs.
type Applicator struct {
	DeletionColor  RGB
	InsertionColor RGB
	// Now stamps revision metadata. Defaults to time.Now.
	Now func() time.Time
}

// NewApplicator returns an Applicator using the standard revision colors.
func NewApplicator() Applicator {
	return Applicator{DeletionColor: DeletionColor, InsertionColor: InsertionColor, Now: time.Now}
}

func (a Applicator) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}

func (a Applicator) colors() (RGB, RGB) {
	if a.DeletionColor == (RGB{}) && a.InsertionColor == (RGB{}) {
		return DeletionColor, InsertionColor
	}
	return a.DeletionColor, a.InsertionColor
}

// Apply returns a copy of p rewritten as a tracked change: the original text as
// a struck, deletion-colored run followed by the replacement text as an
// underlined, insertion-colored run. Both runs inherit the formatting of p's
// first run. Patches without changes return p untouched.
func (a Applicator) Apply(p Paragraph, patch ParagraphPatch, author string) (Paragraph, error) {
	if patch.ParagraphID != p.ID {
		return Paragraph{}, fmt.Errorf("Apply: patch for paragraph %d applied to paragraph %d: %w", patch.ParagraphID, p.ID, ErrApplicationFailed)
	}
	if !patch.HasChanges {
		return p.Clone(), nil
	}
	if !patch.IsValid {
		return Paragraph{}, fmt.Errorf("Apply: paragraph %d: patch is not valid: %w", p.ID, ErrApplicationFailed)
	}
	if p.Text != patch.OriginalText {
		return Paragraph{}, fmt.Errorf("Apply: paragraph %d: text no longer matches patch: %w", p.ID, ErrApplicationFailed)
	}

	var base Formatting
	if len(p.Runs) > 0 {
		base = FormattingOf(p.Runs[0])
	}
	delColor, insColor := a.colors()
	at := a.now()

	runs := make([]Run, 0, 2)
	if patch.OriginalText != "" {
		r := runWith(base, patch.OriginalText)
		r.Strike = true
		c := delColor
		r.Color = &c
		r.Revision = &Revision{Kind: RevisionDeletion, Author: author, Date: at}
		runs = append(runs, r)
	}
	if patch.ReplacementText != "" {
		r := runWith(base, patch.ReplacementText)
		r.Underline = true
		c := insColor
		r.Color = &c
		r.Revision = &Revision{Kind: RevisionInsertion, Author: author, Date: at}
		runs = append(runs, r)
	}
	return Paragraph{ID: p.ID, Text: TextOfRuns(runs), Runs: runs}, nil
}

// runWith builds a run carrying f. Pointer fields are copied again so sibling
// runs never share storage.
func runWith(f Formatting, text string) Run {
	r := Run{Text: text, Bold: f.Bold, Italic: f.Italic, Underline: f.Underline}
	g := FormattingOf(Run{FontName: f.FontName, FontSize: f.FontSize, Color: f.Color})
	r.FontName, r.FontSize, r.Color = g.FontName, g.FontSize, g.Color
	return r
}

// Replace discards p's runs and writes text as a single plain run.
func (a Applicator) Replace(p Paragraph, text string) Paragraph {
	out := Paragraph{ID: p.ID, Text: text}
	if text != "" {
		out.Runs = []Run{{Text: text}}
	}
	return out
}

// ApplyAt applies patch to the paragraph it addresses within paragraphs and
// returns the new slice. An id outside the slice fails with ErrOutOfRange and
// leaves paragraphs untouched.
func (a Applicator) ApplyAt(paragraphs []Paragraph, patch ParagraphPatch, author string) ([]Paragraph, error) {
	id := patch.ParagraphID
	if id < 0 || id >= len(paragraphs) {
		return nil, fmt.Errorf("ApplyAt: paragraph %d of %d: %w", id, len(paragraphs), ErrOutOfRange)
	}
	next, err := a.Apply(paragraphs[id], patch, author)
	if err != nil {
		return nil, err
	}
	out := cloneParagraphs(paragraphs)
	out[id] = next
	return out, nil
}

// BatchResult reports the outcome of ApplyBatch.
type BatchResult struct {
	Paragraphs []Paragraph
	Applied    int
	Failures   []ApplyFailure
}

// FailedIDs returns the paragraph ids whose patches were not applied.
func (r BatchResult) FailedIDs() []int {
	ids := make([]int, len(r.Failures))
	for i, f := range r.Failures {
		ids[i] = f.ParagraphID
	}
	return ids
}

// ApplyBatch applies each patch in order and counts those that succeed.
// A failing patch is recorded and skipped; the remaining patches still apply.
// The input slice is never modified.
func (a Applicator) ApplyBatch(paragraphs []Paragraph, patches []ParagraphPatch, author string) BatchResult {
	res := BatchResult{Paragraphs: cloneParagraphs(paragraphs)}
	for _, patch := range patches {
		id := patch.ParagraphID
		if id < 0 || id >= len(res.Paragraphs) {
			res.Failures = append(res.Failures, ApplyFailure{ParagraphID: id, Reason: ErrOutOfRange.Error()})
			continue
		}
		next, err := a.Apply(res.Paragraphs[id], patch, author)
		if err != nil {
			res.Failures = append(res.Failures, ApplyFailure{ParagraphID: id, Reason: err.Error()})
			continue
		}
		res.Paragraphs[id] = next
		res.Applied++
	}
	return res
}

func cloneParagraphs(in []Paragraph) []Paragraph {
	out := make([]Paragraph, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
