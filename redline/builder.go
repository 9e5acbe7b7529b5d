package redline

import (
	"fmt"
)

// Differ produces diff operations between two texts. DiffEngine is the
// production implementation.
type Differ interface {
	Diff(original, replacement string) []DiffOp
}

// PatchBuilder turns proposed paragraph edits into validated patches.
type PatchBuilder struct {
	Differ Differ
}

// NewPatchBuilder returns a builder over d. A nil d uses a default DiffEngine.
func NewPatchBuilder(d Differ) PatchBuilder {
	if d == nil {
		d = DiffEngine{}
	}
	return PatchBuilder{Differ: d}
}

func (b PatchBuilder) differ() Differ {
	if b.Differ == nil {
		return DiffEngine{}
	}
	return b.Differ
}

// Build diffs one edit into a patch and validates it. The patch is returned
// even when invalid; IsValid reports the outcome.
func (b PatchBuilder) Build(edit ParagraphEdit) ParagraphPatch {
	ops := b.differ().Diff(edit.OriginalText, edit.ReplacementText)
	p := ParagraphPatch{
		ParagraphID:     edit.ParagraphID,
		OriginalText:    edit.OriginalText,
		ReplacementText: edit.ReplacementText,
		Operations:      ops,
		Reasoning:       edit.Reasoning,
		ChangeSummary:   Summarize(ops),
		HasChanges:      HasChanges(ops),
	}
	p.IsValid = ValidatePatch(p) == nil
	return p
}

// Batch is the result of building a set of edits.
type Batch struct {
	Patches    []ParagraphPatch
	InvalidIDs []int
}

// Valid reports whether every patch of the batch passed validation.
func (b Batch) Valid() bool { return len(b.InvalidIDs) == 0 }

// Err returns a ValidationError naming the invalid paragraphs, or nil.
func (b Batch) Err() error {
	if b.Valid() {
		return nil
	}
	return &ValidationError{ParagraphIDs: append([]int(nil), b.InvalidIDs...)}
}

// BuildBatch builds every edit in order.
func (b PatchBuilder) BuildBatch(edits []ParagraphEdit) Batch {
	out := Batch{Patches: make([]ParagraphPatch, 0, len(edits))}
	for _, e := range edits {
		p := b.Build(e)
		if !p.IsValid {
			out.InvalidIDs = append(out.InvalidIDs, p.ParagraphID)
		}
		out.Patches = append(out.Patches, p)
	}
	return out
}

// ValidatePatch checks that p's operations reconstruct both of its texts.
func ValidatePatch(p ParagraphPatch) error {
	if got := SourceText(p.Operations); got != p.OriginalText {
		return fmt.Errorf("paragraph %d: operations do not reconstruct original text: %w", p.ParagraphID, ErrValidationFailed)
	}
	if got := TargetText(p.Operations); got != p.ReplacementText {
		return fmt.Errorf("paragraph %d: operations do not reconstruct replacement text: %w", p.ParagraphID, ErrValidationFailed)
	}
	return nil
}

// Preview returns the text p would produce.
func Preview(p ParagraphPatch) string {
	return TargetText(p.Operations)
}
