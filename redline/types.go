package redline

import (
	"strings"
	"time"
)

// RGB is a run color.
type RGB struct {
	R uint8 `json:"r" yaml:"r"`
	G uint8 `json:"g" yaml:"g"`
	B uint8 `json:"b" yaml:"b"`
}

var (
	// DeletionColor marks text removed by a tracked change.
	DeletionColor = RGB{R: 255, G: 0, B: 0}
	// InsertionColor marks text added by a tracked change.
	InsertionColor = RGB{R: 0, G: 128, B: 0}
)

// RevisionKind says whether a run records removed or added text.
type RevisionKind string

const (
	RevisionDeletion  RevisionKind = "deletion"
	RevisionInsertion RevisionKind = "insertion"
)

// Revision is provenance metadata attached to a tracked-change run. It never
// affects the markup itself.
type Revision struct {
	Kind   RevisionKind `json:"kind"`
	Author string       `json:"author,omitempty"`
	Date   time.Time    `json:"date"`
}

// Run is a contiguous span of text sharing one formatting set.
type Run struct {
	Text      string   `json:"text"`
	Bold      bool     `json:"bold,omitempty"`
	Italic    bool     `json:"italic,omitempty"`
	Underline bool     `json:"underline,omitempty"`
	Strike    bool     `json:"strike,omitempty"`
	FontName  *string  `json:"font_name,omitempty"`
	FontSize  *float64 `json:"font_size,omitempty"`
	Color     *RGB     `json:"color,omitempty"`

	Revision *Revision `json:"revision,omitempty"`
}

// Formatting is the subset of a run that the applicator carries over from the
// original paragraph.
type Formatting struct {
	Bold      bool
	Italic    bool
	Underline bool
	FontName  *string
	FontSize  *float64
	Color     *RGB
}

// FormattingOf captures the formatting of r. Pointer fields are copied so the
// result never aliases r.
func FormattingOf(r Run) Formatting {
	f := Formatting{
		Bold:      r.Bold,
		Italic:    r.Italic,
		Underline: r.Underline,
	}
	if r.FontName != nil {
		name := *r.FontName
		f.FontName = &name
	}
	if r.FontSize != nil {
		size := *r.FontSize
		f.FontSize = &size
	}
	if r.Color != nil {
		c := *r.Color
		f.Color = &c
	}
	return f
}

// Paragraph is one unit of document text. ID is its position in the snapshot
// that produced it.
type Paragraph struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Runs []Run  `json:"runs,omitempty"`
}

// IsEmpty reports whether the paragraph has no visible text.
func (p Paragraph) IsEmpty() bool {
	return strings.TrimSpace(p.Text) == ""
}

// Clone returns a deep copy of p.
func (p Paragraph) Clone() Paragraph {
	out := Paragraph{ID: p.ID, Text: p.Text}
	if p.Runs != nil {
		out.Runs = make([]Run, len(p.Runs))
		for i, r := range p.Runs {
			out.Runs[i] = cloneRun(r)
		}
	}
	return out
}

func cloneRun(r Run) Run {
	f := FormattingOf(r)
	r.FontName, r.FontSize, r.Color = f.FontName, f.FontSize, f.Color
	if r.Revision != nil {
		rev := *r.Revision
		r.Revision = &rev
	}
	return r
}

// TextOfRuns concatenates the text of runs in order.
func TextOfRuns(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Snapshot is an immutable, versioned view of a document's paragraphs.
type Snapshot struct {
	DocumentRef string      `json:"document_ref"`
	Version     int         `json:"version"`
	Paragraphs  []Paragraph `json:"paragraphs"`
}

// Len returns the number of paragraphs.
func (s Snapshot) Len() int { return len(s.Paragraphs) }

// InRange reports whether id addresses a paragraph of s.
func (s Snapshot) InRange(id int) bool {
	return id >= 0 && id < len(s.Paragraphs)
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{DocumentRef: s.DocumentRef, Version: s.Version}
	if s.Paragraphs != nil {
		out.Paragraphs = make([]Paragraph, len(s.Paragraphs))
		for i, p := range s.Paragraphs {
			out.Paragraphs[i] = p.Clone()
		}
	}
	return out
}

// OpType tags a DiffOp.
type OpType string

const (
	OpEqual  OpType = "equal"
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// DiffOp is one positioned diff operation. Position is the running offset, in
// characters, into the source string (not meaningful for inserts). Length is
// the character count of Text.
type DiffOp struct {
	Type     OpType `json:"type"`
	Text     string `json:"text"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

// ParagraphEdit is a proposed replacement of one paragraph's text, as produced
// by an edit oracle.
type ParagraphEdit struct {
	ParagraphID     int    `json:"paragraph_id"`
	OriginalText    string `json:"original_text"`
	ReplacementText string `json:"replacement_text"`
	Reasoning       string `json:"reasoning"`
	SnapshotVersion int    `json:"snapshot_version"`
}

// ChangeSummary counts the operations of a patch.
type ChangeSummary struct {
	TotalOperations int `json:"total_operations"`
	Insertions      int `json:"insertions"`
	Deletions       int `json:"deletions"`
	Equal           int `json:"equal"`
	CharsInserted   int `json:"chars_inserted"`
	CharsDeleted    int `json:"chars_deleted"`
}

// ParagraphPatch is a validated description of how one paragraph changes.
type ParagraphPatch struct {
	ParagraphID     int           `json:"paragraph_id"`
	OriginalText    string        `json:"original_text"`
	ReplacementText string        `json:"replacement_text"`
	Operations      []DiffOp      `json:"operations"`
	Reasoning       string        `json:"reasoning,omitempty"`
	ChangeSummary   ChangeSummary `json:"change_summary"`
	HasChanges      bool          `json:"has_changes"`
	IsValid         bool          `json:"is_valid"`
}

// PatchSet is the immutable result of one completed job.
type PatchSet struct {
	JobID           string           `json:"job_id"`
	SnapshotVersion int              `json:"snapshot_version"`
	Patches         []ParagraphPatch `json:"patches"`
	CreatedAt       time.Time        `json:"created_at"`
}

// JobStatus is a job lifecycle state.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Job is one unit of editing work.
type Job struct {
	ID              string     `json:"id"`
	DocumentRef     string     `json:"document_ref"`
	Instruction     string     `json:"instruction"`
	Status          JobStatus  `json:"status"`
	SnapshotVersion *int       `json:"snapshot_version,omitempty"`
	PatchSet        *PatchSet  `json:"patch_set,omitempty"`
	Error           string     `json:"error,omitempty"`
	Message         string     `json:"message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TransitionFields are the columns written alongside a status change.
// At is the transition time; it becomes started_at when entering Processing
// and completed_at when entering a terminal state.
type TransitionFields struct {
	At              time.Time
	Error           string
	Message         string
	SnapshotVersion *int
	PatchSet        *PatchSet
}
