package redline

import (
	"fmt"
	"strings"
)

// Statistics aggregates the change summaries of a patch set.
type Statistics struct {
	TotalPatches       int   `json:"total_patches"`
	ParagraphsModified int   `json:"paragraphs_modified"`
	ParagraphIDs       []int `json:"paragraph_ids"`
	TotalInsertions    int   `json:"total_insertions"`
	TotalDeletions     int   `json:"total_deletions"`
	CharsInserted      int   `json:"total_chars_inserted"`
	CharsDeleted       int   `json:"total_chars_deleted"`
	NetCharChange      int   `json:"net_char_change"`
}

// ComputeStatistics counts only patches that change their paragraph.
func ComputeStatistics(patches []ParagraphPatch) Statistics {
	st := Statistics{TotalPatches: len(patches), ParagraphIDs: []int{}}
	for _, p := range patches {
		if !p.HasChanges {
			continue
		}
		st.ParagraphIDs = append(st.ParagraphIDs, p.ParagraphID)
		st.TotalInsertions += p.ChangeSummary.Insertions
		st.TotalDeletions += p.ChangeSummary.Deletions
		st.CharsInserted += p.ChangeSummary.CharsInserted
		st.CharsDeleted += p.ChangeSummary.CharsDeleted
	}
	st.ParagraphsModified = len(st.ParagraphIDs)
	st.NetCharChange = st.CharsInserted - st.CharsDeleted
	return st
}

const reportRule = "============================================================"

// Report renders st as a human readable block.
func (st Statistics) Report() string {
	ids := make([]string, len(st.ParagraphIDs))
	for i, id := range st.ParagraphIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}

	var b strings.Builder
	b.WriteString(reportRule + "\n")
	b.WriteString("PATCH APPLICATION REPORT\n")
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "Total patches: %d\n", st.TotalPatches)
	fmt.Fprintf(&b, "Paragraphs modified: %d\n", st.ParagraphsModified)
	fmt.Fprintf(&b, "Paragraph IDs: [%s]\n", strings.Join(ids, ", "))
	b.WriteString("Operations:\n")
	fmt.Fprintf(&b, "  Insertions: %d (%d chars)\n", st.TotalInsertions, st.CharsInserted)
	fmt.Fprintf(&b, "  Deletions:  %d (%d chars)\n", st.TotalDeletions, st.CharsDeleted)
	fmt.Fprintf(&b, "  Net change: %+d chars\n", st.NetCharChange)
	b.WriteString(reportRule + "\n")
	return b.String()
}
