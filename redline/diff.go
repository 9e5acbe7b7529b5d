package redline

import (
	"strings"
	"time"
	"unicode/utf8"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// DefaultDiffTimeout bounds the time spent searching for a minimal diff.
	DefaultDiffTimeout = 2 * time.Second
	// DefaultEditCost is the efficiency cleanup threshold. Equalities shorter
	// than this, surrounded by edits, fold into the neighbouring replacement.
	DefaultEditCost = 12
)

// DiffEngine computes character-level operation sequences between two texts.
// The zero value uses DefaultDiffTimeout and DefaultEditCost; a negative
// Timeout disables the deadline and a negative EditCost skips the efficiency
// cleanup.
type DiffEngine struct {
	Timeout  time.Duration
	EditCost int
}

// NewDiffEngine returns an engine with the given knobs.
func NewDiffEngine(timeout time.Duration, editCost int) DiffEngine {
	return DiffEngine{Timeout: timeout, EditCost: editCost}
}

func (e DiffEngine) matcher() *diffpatch.DiffMatchPatch {
	dmp := diffpatch.New()
	switch {
	case e.Timeout == 0:
		dmp.DiffTimeout = DefaultDiffTimeout
	case e.Timeout < 0:
		dmp.DiffTimeout = 0
	default:
		dmp.DiffTimeout = e.Timeout
	}
	dmp.DiffEditCost = e.EditCost
	if e.EditCost == 0 {
		dmp.DiffEditCost = DefaultEditCost
	}
	return dmp
}

// Diff returns the positioned operations that turn original into replacement.
// Identical inputs yield a single equal op (or none when both are empty).
// Concatenating equal+delete texts yields original; equal+insert yields
// replacement.
func (e DiffEngine) Diff(original, replacement string) []DiffOp {
	switch {
	case original == replacement:
		if original == "" {
			return []DiffOp{}
		}
		return []DiffOp{{Type: OpEqual, Text: original, Length: runeLen(original)}}
	case original == "":
		return []DiffOp{{Type: OpInsert, Text: replacement, Length: runeLen(replacement)}}
	case replacement == "":
		return []DiffOp{{Type: OpDelete, Text: original, Length: runeLen(original)}}
	case !utf8.ValidString(original) || !utf8.ValidString(replacement):
		// The matcher works on runes and would turn stray bytes into U+FFFD.
		return []DiffOp{
			{Type: OpDelete, Text: original, Length: runeLen(original)},
			{Type: OpInsert, Text: replacement, Position: runeLen(original), Length: runeLen(replacement)},
		}
	}

	dmp := e.matcher()
	diffs := dmp.DiffMain(original, replacement, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	if e.EditCost >= 0 {
		diffs = dmp.DiffCleanupEfficiency(diffs)
	}
	return positioned(diffs)
}

func positioned(diffs []diffpatch.Diff) []DiffOp {
	ops := make([]DiffOp, 0, len(diffs))
	pos := 0
	for i := range diffs {
		d := &diffs[i]
		if d.Text == "" {
			continue
		}
		n := runeLen(d.Text)
		op := DiffOp{Text: d.Text, Position: pos, Length: n}
		switch d.Type {
		case diffpatch.DiffInsert:
			op.Type = OpInsert
		case diffpatch.DiffDelete:
			op.Type = OpDelete
			pos += n
		case diffpatch.DiffEqual:
			op.Type = OpEqual
			pos += n
		}
		ops = append(ops, op)
	}
	return ops
}

// Similarity returns the share of characters the two texts have in common,
// in [0, 1]. Two empty strings are identical.
func (e DiffEngine) Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	maxLen := max(runeLen(a), runeLen(b))
	equal := 0
	for _, op := range e.Diff(a, b) {
		if op.Type == OpEqual {
			equal += op.Length
		}
	}
	return float64(equal) / float64(maxLen)
}

// SourceText reassembles the original text from ops (equal + delete).
func SourceText(ops []DiffOp) string {
	return joinOps(ops, OpDelete)
}

// TargetText reassembles the replacement text from ops (equal + insert).
// Preview output is exactly this.
func TargetText(ops []DiffOp) string {
	return joinOps(ops, OpInsert)
}

func joinOps(ops []DiffOp, keep OpType) string {
	var b strings.Builder
	for _, op := range ops {
		if op.Type == OpEqual || op.Type == keep {
			b.WriteString(op.Text)
		}
	}
	return b.String()
}

// Summarize counts ops by type. Character counts are in runes.
func Summarize(ops []DiffOp) ChangeSummary {
	s := ChangeSummary{TotalOperations: len(ops)}
	for _, op := range ops {
		switch op.Type {
		case OpInsert:
			s.Insertions++
			s.CharsInserted += op.Length
		case OpDelete:
			s.Deletions++
			s.CharsDeleted += op.Length
		case OpEqual:
			s.Equal++
		}
	}
	return s
}

// HasChanges reports whether any op inserts or deletes.
func HasChanges(ops []DiffOp) bool {
	for _, op := range ops {
		if op.Type != OpEqual {
			return true
		}
	}
	return false
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
