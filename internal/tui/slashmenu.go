package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SlashMenuItem is a single entry in the slash command autocomplete menu.
type SlashMenuItem struct {
	Name string // e.g. "/new"
	Desc string
}

// BuiltinSlashCommands returns the chat loop's slash commands.
func BuiltinSlashCommands() []SlashMenuItem {
	return []SlashMenuItem{
		{Name: "/help", Desc: "Show commands"},
		{Name: "/new", Desc: "Start a fresh conversation"},
		{Name: "/summary", Desc: "Show the rolling summary"},
		{Name: "/history", Desc: "Show recent messages"},
		{Name: "/usage", Desc: "Show token usage and estimated cost"},
		{Name: "/id", Desc: "Show the conversation id"},
		{Name: "/exit", Desc: "Quit"},
	}
}

// filterSlashItems returns items whose Name starts with the given prefix (case-insensitive).
func filterSlashItems(items []SlashMenuItem, prefix string) []SlashMenuItem {
	if prefix == "" || prefix == "/" {
		return items
	}
	lower := strings.ToLower(prefix)
	var out []SlashMenuItem
	for _, it := range items {
		if strings.HasPrefix(strings.ToLower(it.Name), lower) {
			out = append(out, it)
		}
	}
	return out
}

var (
	slashMenuBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	slashMenuItemNormal = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	slashMenuItemSelected = lipgloss.NewStyle().
				Foreground(lipgloss.Color("220")).
				Bold(true)

	slashMenuDesc = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	slashMenuDescSelected = lipgloss.NewStyle().
				Foreground(lipgloss.Color("178"))
)

// renderSlashMenu renders the slash command dropdown menu.
// sel is the currently highlighted index. width is the available terminal width.
func renderSlashMenu(items []SlashMenuItem, sel int, width int) string {
	if len(items) == 0 {
		return ""
	}

	maxName := 0
	for _, it := range items {
		if len(it.Name) > maxName {
			maxName = len(it.Name)
		}
	}

	var lines []string
	for i, it := range items {
		padded := it.Name + strings.Repeat(" ", maxName-len(it.Name))
		if i == sel {
			lines = append(lines, slashMenuItemSelected.Render(padded)+"   "+slashMenuDescSelected.Render(it.Desc))
		} else {
			lines = append(lines, slashMenuItemNormal.Render(padded)+"   "+slashMenuDesc.Render(it.Desc))
		}
	}

	maxWidth := width - 6
	if maxWidth < 30 {
		maxWidth = 30
	}
	return slashMenuBorder.MaxWidth(maxWidth).Render(strings.Join(lines, "\n"))
}
