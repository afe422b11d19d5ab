package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// ---------- messages sent from the chat goroutine via program.Send() ----------

type readInputMsg struct{}

type inputResult struct {
	text string
	err  error
}

type userMsg struct{ text string }
type thinkingStartMsg struct{}
type replyMsg struct{ text string }
type systemMsg struct{ text string }
type errorMsg struct{ text string }
type conversationMsg struct{ id string }
type loopDoneMsg struct{ err error }

// TUIConfig carries version/provider info for the welcome page and status bar.
type TUIConfig struct {
	Version        string
	Provider       string
	Model          string
	ConversationID string
	Ephemeral      bool
	ShowWelcome    bool
}

// ---------- styles ----------

var (
	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	statusBarBgStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("235"))

	statusModelStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("235")).
				Foreground(lipgloss.Color("2")).
				Bold(true)

	welcomeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1)

	welcomeTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("2")).
				Bold(true)

	welcomeLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))

	welcomeValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	welcomeHintStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))
)

var dotSpinner = spinner.Spinner{
	Frames: []string{"·", "✢", "✳", "✶", "✻", "✽", "✻", "✶", "✳", "✢"},
	FPS:    120 * time.Millisecond,
}

// previewLines caps the wrapped preview shown above a long input line.
const previewLines = 6

// ---------- Model ----------

// Model is the bubbletea model managing the full TUI state.
type Model struct {
	textinput textinput.Model
	spinner   spinner.Model
	width     int
	height    int
	inputMode bool
	thinking  bool
	quitting  bool

	slashSel int

	inputCh chan inputResult

	cfg TUIConfig

	mdRenderer      *glamour.TermRenderer
	mdRendererWidth int
}

// NewModel creates the initial bubbletea model.
func NewModel(inputCh chan inputResult, cfg TUIConfig) Model {
	ti := textinput.New()
	ti.Prompt = "❯ "
	ti.CharLimit = 16384

	sp := spinner.New()
	sp.Spinner = dotSpinner
	sp.Style = spinnerStyle

	return Model{
		textinput: ti,
		spinner:   sp,
		inputCh:   inputCh,
		cfg:       cfg,
	}
}

func (m Model) Init() tea.Cmd {
	if m.cfg.ShowWelcome {
		return tea.Println(renderWelcome(m.cfg))
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textinput.Width = m.width - 4

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			if m.inputMode {
				m.inputCh <- inputResult{err: fmt.Errorf("interrupted")}
				m.inputMode = false
				m.textinput.Blur()
			}
			m.quitting = true
			return m, tea.Quit
		case "tab":
			// Complete the highlighted slash command.
			if items := m.slashItems(); len(items) > 0 {
				m.textinput.SetValue(items[m.slashSel%len(items)].Name + " ")
				m.textinput.CursorEnd()
				m.slashSel = 0
			}
			return m, nil
		case "up":
			if m.slashSel > 0 {
				m.slashSel--
			}
			return m, nil
		case "down":
			if n := len(m.slashItems()); m.slashSel < n-1 {
				m.slashSel++
			}
			return m, nil
		case "enter":
			if m.inputMode {
				text := strings.TrimSpace(m.textinput.Value())
				m.textinput.SetValue("")
				m.slashSel = 0
				m.inputCh <- inputResult{text: text}
				m.inputMode = false
				m.textinput.Blur()
			}
			return m, nil
		}

		if m.inputMode {
			var cmd tea.Cmd
			m.textinput, cmd = m.textinput.Update(msg)
			cmds = append(cmds, cmd)
		}

	// ---------- custom messages from the chat goroutine ----------

	case readInputMsg:
		m.inputMode = true
		m.textinput.Focus()

	case userMsg:
		cmds = append(cmds, tea.Println(userStyle.Render("You: "+msg.text)))

	case thinkingStartMsg:
		m.thinking = true
		cmds = append(cmds, m.spinner.Tick)

	case replyMsg:
		m.thinking = false
		cmds = append(cmds, tea.Println(m.renderMarkdown(msg.text)))

	case systemMsg:
		m.thinking = false
		cmds = append(cmds, tea.Println(systemStyle.Render(msg.text)))

	case errorMsg:
		m.thinking = false
		cmds = append(cmds, tea.Println(errorStyle.Render("Error: "+msg.text)))

	case conversationMsg:
		m.cfg.ConversationID = msg.id

	case loopDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var parts []string
	if m.thinking {
		parts = append(parts, spinnerStyle.Render(m.spinner.View())+hintStyle.Render(" Thinking…"))
	}

	if m.inputMode {
		if items := m.slashItems(); len(items) > 0 {
			parts = append(parts, renderSlashMenu(items, m.slashSel%len(items), m.width))
		}
		width := m.width - 4
		if width <= 0 {
			width = 76
		}
		if preview := renderWrappedInputPreview(m.textinput.Value(), width, previewLines); preview != "" {
			parts = append(parts, preview)
		}
		parts = append(parts, m.textinput.View())
	} else {
		parts = append(parts, systemStyle.Render("❯"))
	}

	parts = append(parts, m.renderStatusBar())
	return strings.Join(parts, "\n")
}

func (m Model) slashItems() []SlashMenuItem {
	v := m.textinput.Value()
	if !m.inputMode || !strings.HasPrefix(v, "/") || strings.Contains(v, " ") {
		return nil
	}
	return filterSlashItems(BuiltinSlashCommands(), v)
}

// renderStatusBar renders the bottom separator + model/conversation bar.
func (m *Model) renderStatusBar() string {
	modelName := m.cfg.Model
	if modelName == "" {
		modelName = "unknown"
	}
	conv := m.cfg.ConversationID
	if conv == "" {
		conv = "new"
	}
	status := statusModelStyle.Render(" "+modelName) +
		statusBarStyle.Render(" │ conversation: "+truncate(conv, 12))
	if m.cfg.Ephemeral {
		status += statusBarStyle.Render(" │ ephemeral")
	}
	width := max(m.width, 0)
	return separatorStyle.Width(width).Render(strings.Repeat("─", width)) + "\n" +
		statusBarBgStyle.Width(width).Render(status)
}

// ---------- markdown rendering ----------

func (m *Model) getMarkdownRenderer() *glamour.TermRenderer {
	width := m.width
	if width <= 0 {
		width = 80
	}
	wrapWidth := width - 4
	if m.mdRenderer != nil && m.mdRendererWidth == wrapWidth {
		return m.mdRenderer
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return nil
	}
	m.mdRenderer = r
	m.mdRendererWidth = wrapWidth
	return r
}

func (m *Model) renderMarkdown(text string) string {
	r := m.getMarkdownRenderer()
	if r == nil {
		return text
	}
	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

// ---------- input preview ----------

// wrapByDisplayWidth breaks s into lines no wider than width terminal cells.
func wrapByDisplayWidth(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var (
		lines []string
		cur   strings.Builder
		w     int
	)
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if w+rw > width && w > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			w = 0
		}
		cur.WriteRune(r)
		w += rw
	}
	if cur.Len() > 0 || len(lines) == 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// renderWrappedInputPreview shows a long single-line input wrapped to the
// terminal, keeping the last maxLines lines. Short inputs need no preview.
func renderWrappedInputPreview(text string, width, maxLines int) string {
	if runewidth.StringWidth(text) <= width {
		return ""
	}
	lines := wrapByDisplayWidth(text, width)
	if maxLines > 0 && len(lines) > maxLines {
		hidden := len(lines) - maxLines
		lines = append([]string{fmt.Sprintf("… +%d lines", hidden)}, lines[hidden:]...)
	}
	return hintStyle.Render(strings.Join(lines, "\n"))
}

// ---------- welcome page ----------

func renderWelcome(cfg TUIConfig) string {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	conv := cfg.ConversationID
	if conv == "" {
		conv = "(new)"
	}
	if cfg.Ephemeral {
		conv += " · ephemeral"
	}

	lines := []string{
		welcomeLabelStyle.Render("Provider:     ") + welcomeValueStyle.Render(cfg.Provider),
		welcomeLabelStyle.Render("Model:        ") + welcomeValueStyle.Render(cfg.Model),
		welcomeLabelStyle.Render("Conversation: ") + welcomeValueStyle.Render(conv),
		"",
		welcomeHintStyle.Render("/new fresh conversation  /summary rolling summary  /exit quit"),
	}

	title := welcomeTitleStyle.Render(fmt.Sprintf("threadline %s", version))
	return title + "\n" + welcomeBorderStyle.Render(strings.Join(lines, "\n"))
}
