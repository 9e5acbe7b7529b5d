package provider

import (
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
)

const editorInstructions = `You are a careful legal document editor. You receive a document split into numbered paragraphs and one editing instruction.

Rules:
- Edit only the paragraphs the instruction directly affects. When in doubt, leave a paragraph alone.
- Keep legal wording, capitalization and punctuation unless the instruction asks to change them.
- Never add or remove clauses unless the instruction explicitly asks for it.
- paragraph_id must be the number shown in brackets before the paragraph.
- original_text must be the paragraph's exact current text.
- replacement_text is the full new text of the paragraph, not a fragment.
- reasoning is one short sentence.

Return {"edits": []} when nothing needs to change.`

// DocumentContext renders the non-empty paragraphs of snap as
// "[Paragraph N] text" blocks separated by blank lines.
func DocumentContext(snap redline.Snapshot) string {
	blocks := make([]string, 0, len(snap.Paragraphs))
	for _, p := range snap.Paragraphs {
		if p.IsEmpty() {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Paragraph %d] %s", p.ID, p.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// UserPrompt is the model input for one instruction against snap.
func UserPrompt(snap redline.Snapshot, instruction string) string {
	var b strings.Builder
	b.WriteString("Document:\n")
	b.WriteString(DocumentContext(snap))
	b.WriteString("\n\nInstruction: ")
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\nGenerate the edits that fulfil the instruction.")
	return b.String()
}
