package tui

import (
	"io"
	"sync"
)

// ScriptIO is a silent IO that feeds a fixed list of inputs and records
// everything shown to the user.
type ScriptIO struct {
	mu       sync.Mutex
	inputs   []string
	Replies  []string
	System   []string
	Errors   []string
	Thinking int
	ConvID   string
}

var _ IO = (*ScriptIO)(nil)

// NewScriptIO returns a ScriptIO that yields inputs in order, then io.EOF.
func NewScriptIO(inputs ...string) *ScriptIO {
	return &ScriptIO{inputs: inputs}
}

func (s *ScriptIO) ReadInput() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) == 0 {
		return "", io.EOF
	}
	next := s.inputs[0]
	s.inputs = s.inputs[1:]
	return next, nil
}

func (s *ScriptIO) UserMessage(_ string) {}

func (s *ScriptIO) ThinkingStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Thinking++
}

func (s *ScriptIO) Reply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Replies = append(s.Replies, text)
}

func (s *ScriptIO) SystemMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.System = append(s.System, text)
}

func (s *ScriptIO) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, msg)
}

func (s *ScriptIO) SetConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConvID = id
}
