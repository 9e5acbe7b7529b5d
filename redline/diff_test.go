package redline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDiffTitleChangeIsOneReplacement(t *testing.T) {
	t.Parallel()

	orig := "The Employee shall serve as Senior Software Engineer."
	repl := "The Employee shall serve as Principal Software Architect."

	got := DiffEngine{}.Diff(orig, repl)
	want := []DiffOp{
		{Type: OpEqual, Text: "The Employee shall serve as ", Position: 0, Length: 28},
		{Type: OpDelete, Text: "Senior Software Engineer", Position: 28, Length: 24},
		{Type: OpInsert, Text: "Principal Software Architect", Position: 52, Length: 28},
		{Type: OpEqual, Text: ".", Position: 52, Length: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Diff mismatch (-want +got):\n%s", diff)
	}

	s := Summarize(got)
	if s.Insertions != 1 || s.Deletions != 1 {
		t.Fatalf("insertions=%d deletions=%d, want 1 and 1", s.Insertions, s.Deletions)
	}
	if TargetText(got) != repl {
		t.Fatalf("preview=%q, want %q", TargetText(got), repl)
	}
}

func TestDiffIdenticalAndEmpty(t *testing.T) {
	t.Parallel()

	e := DiffEngine{}
	got := e.Diff("Governing law: Delaware.", "Governing law: Delaware.")
	want := []DiffOp{{Type: OpEqual, Text: "Governing law: Delaware.", Position: 0, Length: 24}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("identical (-want +got):\n%s", diff)
	}
	if HasChanges(got) {
		t.Fatalf("identical texts reported changes")
	}

	if got := e.Diff("", ""); len(got) != 0 {
		t.Fatalf("empty diff=%v, want none", got)
	}
	if got := e.Diff("", "new clause"); len(got) != 1 || got[0].Type != OpInsert || got[0].Length != 10 {
		t.Fatalf("insert-only diff=%v", got)
	}
	if got := e.Diff("old clause", ""); len(got) != 1 || got[0].Type != OpDelete || got[0].Position != 0 {
		t.Fatalf("delete-only diff=%v", got)
	}
}

func TestDiffRoundTripAndPositions(t *testing.T) {
	t.Parallel()

	pairs := []struct{ a, b string }{
		{"Acme Corporation agrees to pay $120,000.", "TechCorp Industries agrees to pay $150,000."},
		{"Bonus of 15% annually.", "Bonus of 20% annually, payable in March."},
		{"Le salarié reçoit 1 000 €.", "La salariée reçoit 2 000 €."},
		{"abc", "xyz"},
		{"line one\nline two", "line one\nline 2\nline three"},
	}
	engines := []DiffEngine{{}, NewDiffEngine(-1, -1), NewDiffEngine(50*time.Millisecond, 4)}
	for _, e := range engines {
		for _, p := range pairs {
			ops := e.Diff(p.a, p.b)
			if got := SourceText(ops); got != p.a {
				t.Fatalf("source=%q, want %q", got, p.a)
			}
			if got := TargetText(ops); got != p.b {
				t.Fatalf("target=%q, want %q", got, p.b)
			}

			pos := 0
			for i, op := range ops {
				if op.Position != pos {
					t.Fatalf("%q->%q op %d position=%d, want %d", p.a, p.b, i, op.Position, pos)
				}
				if op.Length != len([]rune(op.Text)) {
					t.Fatalf("op %d length=%d, want %d", i, op.Length, len([]rune(op.Text)))
				}
				if op.Type != OpInsert {
					pos += op.Length
				}
			}
		}
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	e := DiffEngine{}
	cases := []struct {
		a, b     string
		min, max float64
	}{
		{"", "", 1, 1},
		{"same text", "same text", 1, 1},
		{"abc", "xyz", 0, 0},
		{"", "something", 0, 0},
		{"The salary is $120,000.", "The salary is $150,000.", 0.5, 0.99},
	}
	for _, c := range cases {
		got := e.Similarity(c.a, c.b)
		if got < c.min || got > c.max {
			t.Fatalf("Similarity(%q,%q)=%v, want in [%v,%v]", c.a, c.b, got, c.min, c.max)
		}
		if got < 0 || got > 1 {
			t.Fatalf("Similarity out of bounds: %v", got)
		}
	}
}
