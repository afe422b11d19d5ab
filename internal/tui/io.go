// Package tui defines the IO interface between the chat loop and the
// user interface layer, plus PlainIO (terminal fallback), TuiIO (bubbletea)
// and ScriptIO (scripted input for tests and piped use).
package tui

// IO is the contract between the chat loop and the UI layer.
// Every method maps to a distinct visual event so the loop never depends
// on a specific rendering implementation.
type IO interface {
	// ReadInput blocks until the user submits a line of input.
	// Returns ("", io.EOF) when the user quits.
	ReadInput() (string, error)

	// UserMessage displays the user's submitted message in the output area.
	UserMessage(text string)

	// ThinkingStart signals that a turn is running.
	ThinkingStart()

	// Reply displays a complete assistant reply. TUI implementations render
	// it as Markdown.
	Reply(text string)

	// SystemMessage displays a notice (command feedback, summaries).
	SystemMessage(text string)

	// Error displays an error message with prominent styling.
	Error(msg string)

	// SetConversation updates the conversation shown in the status area.
	SetConversation(id string)
}
