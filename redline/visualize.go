package redline

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/theimaginaryfoundation/redline-o-bot/redline/fileutils"
)

// opPreviewChars caps the text shown per operation in Visualize.
const opPreviewChars = 50

// Visualizer renders patches for terminals.
type Visualizer struct {
	header  *color.Color
	insert  *color.Color
	delete  *color.Color
	equal   *color.Color
	label   *color.Color
	replace *color.Color
}

// NewVisualizer returns a visualizer. With colored=false the output carries no
// escape sequences regardless of the terminal.
func NewVisualizer(colored bool) Visualizer {
	v := Visualizer{
		header:  color.New(color.FgCyan),
		insert:  color.New(color.FgGreen),
		delete:  color.New(color.FgRed),
		equal:   color.New(color.FgWhite),
		label:   color.New(color.FgYellow),
		replace: color.New(color.FgGreen),
	}
	for _, c := range []*color.Color{v.header, v.insert, v.delete, v.equal, v.label, v.replace} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return v
}

// Visualize lists the original, the replacement and every operation of p.
func (v Visualizer) Visualize(p ParagraphPatch) string {
	var b strings.Builder
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "PATCH paragraph=%d\n", p.ParagraphID)
	b.WriteString(reportRule + "\n")
	b.WriteString(v.label.Sprint("Original:") + "\n")
	b.WriteString(p.OriginalText + "\n")
	b.WriteString(v.replace.Sprint("Replacement:") + "\n")
	b.WriteString(p.ReplacementText + "\n")
	b.WriteString(v.header.Sprint("Operations:") + "\n")
	for _, op := range p.Operations {
		text := fmt.Sprintf("%q", fileutils.Truncate(op.Text, opPreviewChars))
		switch op.Type {
		case OpInsert:
			fmt.Fprintf(&b, "  %s %s\n", v.insert.Sprint("+ INSERT:"), text)
		case OpDelete:
			fmt.Fprintf(&b, "  %s %s\n", v.delete.Sprint("- DELETE:"), text)
		default:
			fmt.Fprintf(&b, "  %s  %s\n", v.equal.Sprint("= EQUAL:"), text)
		}
	}
	if p.Reasoning != "" {
		fmt.Fprintf(&b, "Reasoning: %s\n", p.Reasoning)
	}
	b.WriteString(reportRule + "\n")
	return b.String()
}

// Inline renders p as one string with deletions as [-text] and insertions as
// [+text].
func (v Visualizer) Inline(p ParagraphPatch) string {
	var b strings.Builder
	for _, op := range p.Operations {
		switch op.Type {
		case OpInsert:
			b.WriteString(v.insert.Sprint("[+" + op.Text + "]"))
		case OpDelete:
			b.WriteString(v.delete.Sprint("[-" + op.Text + "]"))
		default:
			b.WriteString(op.Text)
		}
	}
	return b.String()
}
