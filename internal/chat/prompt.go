package chat

import (
	"fmt"
	"strings"
)

// systemPrompt states the live sheet inventory and the tool policy. It is
// rebuilt on every turn so the model always sees the current document.
func systemPrompt(sheets []string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant for working with the user's spreadsheet.\n\n")

	if len(sheets) == 0 {
		b.WriteString("The spreadsheet document is currently missing or empty.\n")
	} else {
		fmt.Fprintf(&b, "Available sheets: %s.\n", strings.Join(sheets, ", "))
	}

	b.WriteString(`
Tool policy:
- Use readTable to inspect data before answering questions about it.
- Cell changes are dangerous. NEVER call writeCell until the user has
  explicitly approved the exact change through confirmAction. When you want
  to change a cell, call confirmAction with the action, a clear question,
  and the sheet, cell and value you intend to write.
- If a tool reports an error, explain it to the user instead of retrying
  blindly.

Keep answers short and answer in the user's language.`)
	return b.String()
}
