package bot

import "strings"

// markdownReplacer escapes MarkdownV2 specials in plain text. Asterisks are
// left alone so prose can still carry bold spans.
var markdownReplacer = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`, "~", `\~`,
	"`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
	"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

func escapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}

// codeBlock wraps s in a pre block. Only backslash and backtick need
// escaping inside one.
func codeBlock(s string) string {
	s = strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(s)
	return "```\n" + s + "\n```"
}

func helpText() string {
	parts := []string{
		escapeMarkdown("*How to ask for a more useful answer* 🤝"),
		"",
		escapeMarkdown("- State the goal: what you want to end up with"),
		escapeMarkdown("- Give context: platform, language, versions, time or resource limits"),
		escapeMarkdown("- Show sample input or your current code, if any"),
		escapeMarkdown("- Say which answer format you want: steps, code, a checklist"),
		"",
		escapeMarkdown("*Minimal template:*"),
		codeBlock("Goal: ...\nContext: ... (language/version/platform)\nData/code: ...\nAnswer format: ... (short/step by step/code sample)"),
		escapeMarkdown("*Example:*"),
		codeBlock("Goal: debug a MOSFET gate driver.\nContext: STM32, 12 V, N-MOSFET, PWM 20 kHz.\nData/code: schematic fragment, scope traces, symptoms (overheating, ringing).\nAnswer format: list of checks, Rg calculation, layout advice."),
		"",
		escapeMarkdown("Use /newdialog to start over with a clean context. Your earlier dialogs are kept."),
	}
	return strings.Join(parts, "\n")
}
