package tui

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// TuiIO implements the IO interface by sending messages to a bubbletea Program.
// All methods are safe to call from any goroutine.
type TuiIO struct {
	program *tea.Program
	inputCh chan inputResult
}

var _ IO = (*TuiIO)(nil)

// NewTuiIO creates the bubbletea program and its IO adapter. The caller
// runs the program with Run and the chat loop in another goroutine.
func NewTuiIO(cfg TUIConfig, opts ...tea.ProgramOption) (*TuiIO, *tea.Program) {
	inputCh := make(chan inputResult, 1)
	program := tea.NewProgram(NewModel(inputCh, cfg), opts...)
	return &TuiIO{program: program, inputCh: inputCh}, program
}

// send is a nil-safe helper that sends a message to the bubbletea program.
func (t *TuiIO) send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *TuiIO) ReadInput() (string, error) {
	if t.program == nil {
		return "", io.EOF
	}
	// Tell the TUI to activate the text input
	t.program.Send(readInputMsg{})

	// Block until the user submits or the TUI exits
	res := <-t.inputCh
	if res.err != nil {
		return "", io.EOF
	}
	return res.text, nil
}

func (t *TuiIO) UserMessage(text string) { t.send(userMsg{text: text}) }

func (t *TuiIO) ThinkingStart() { t.send(thinkingStartMsg{}) }

func (t *TuiIO) Reply(text string) { t.send(replyMsg{text: text}) }

func (t *TuiIO) SystemMessage(text string) { t.send(systemMsg{text: text}) }

func (t *TuiIO) Error(msg string) { t.send(errorMsg{text: msg}) }

func (t *TuiIO) SetConversation(id string) { t.send(conversationMsg{id: id}) }

// Done tells the program the chat loop has finished.
func (t *TuiIO) Done(err error) { t.send(loopDoneMsg{err: err}) }

// Close unblocks a pending ReadInput after the program has exited.
func (t *TuiIO) Close() {
	select {
	case t.inputCh <- inputResult{err: io.EOF}:
	default:
	}
}
