package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// PlainIO implements IO with plain line-oriented output. It is used when
// stdout is not a terminal or the TUI is disabled.
type PlainIO struct {
	scanner *bufio.Scanner
	out     io.Writer
	errOut  io.Writer
	prompt  bool
	mu      sync.Mutex
}

var _ IO = (*PlainIO)(nil)

// NewPlainIO creates a PlainIO on stdin/stdout.
func NewPlainIO() *PlainIO {
	return NewPlainIOWith(os.Stdin, os.Stdout, os.Stderr, true)
}

// NewPlainIOWith creates a PlainIO on arbitrary streams. prompt controls
// whether "> " is printed before each read.
func NewPlainIOWith(in io.Reader, out, errOut io.Writer, prompt bool) *PlainIO {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 1024*1024), 1024*1024)
	return &PlainIO{scanner: s, out: out, errOut: errOut, prompt: prompt}
}

func (p *PlainIO) ReadInput() (string, error) {
	if p.prompt {
		p.print("\n> ")
	}
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

func (p *PlainIO) UserMessage(_ string) {
	// Plain terminal: the user already sees what they typed.
}

func (p *PlainIO) ThinkingStart() {}

func (p *PlainIO) Reply(text string) {
	p.print("\n" + text + "\n")
}

func (p *PlainIO) SystemMessage(text string) {
	p.print(text + "\n")
}

func (p *PlainIO) Error(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.errOut, "error: %s\n", msg)
}

func (p *PlainIO) SetConversation(_ string) {}

func (p *PlainIO) print(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, s)
}

// truncate shortens s to maxLen runes, appending "..." if cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
