// Package chunker splits long replies into pieces that fit a transport's
// message size limit.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultLimit is Telegram's message size limit.
const DefaultLimit = 4096

const (
	fence = "```"

	// Longest info string carried over when a fence is reopened.
	maxInfoLen = 20

	// Room kept free in every piece for a reopened fence line and a
	// closing marker.
	reserve = len(fence) + maxInfoLen + 1 + len("\n"+fence)

	minLimit = 2 * reserve
)

var paragraphBreak = regexp.MustCompile(`\n\n+`)

// Split breaks text into chunks of at most limit characters, preferring
// paragraph boundaries. Text that already fits is returned unchanged as a
// single chunk. When a fenced code block spans a boundary the chunk is closed
// with a fence marker and the next chunk reopens it, so each chunk renders
// on its own.
//
// A limit <= 0 selects DefaultLimit. Very small limits are raised so the
// fence markers always fit.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	if limit < minLimit {
		limit = minLimit
	}
	return balance(pack(text, limit-reserve))
}

// paragraphs splits text into paragraphs and the blank-line runs between them.
func paragraphs(text string) []string {
	var parts []string
	prev := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		if loc[0] > prev {
			parts = append(parts, text[prev:loc[0]])
		}
		parts = append(parts, text[loc[0]:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		parts = append(parts, text[prev:])
	}
	return parts
}

// pack accumulates paragraphs into pieces of at most limit runes.
func pack(text string, limit int) []string {
	var (
		pieces []string
		buf    strings.Builder
		n      int
	)
	flush := func() {
		if n > 0 {
			pieces = append(pieces, buf.String())
			buf.Reset()
			n = 0
		}
	}
	write := func(s string, runes int) {
		buf.WriteString(s)
		n += runes
	}

	for _, part := range paragraphs(text) {
		size := utf8.RuneCountInString(part)

		if strings.HasPrefix(part, "\n\n") {
			if n+size <= limit {
				write(part, size)
			} else {
				// A separator at a chunk boundary is dropped.
				flush()
			}
			continue
		}

		if n+size <= limit {
			write(part, size)
			continue
		}
		if size <= limit {
			flush()
			write(part, size)
			continue
		}

		runes := []rune(part)
		for start := 0; start < len(runes); {
			room := limit - n
			if room <= 0 {
				flush()
				room = limit
			}
			end := min(start+room, len(runes))
			if end < len(runes) {
				if cut := fenceSafeCut(runes, start, end); cut > start {
					end = cut
				} else if n > 0 {
					flush()
					continue
				}
			}
			write(string(runes[start:end]), end-start)
			start = end
			if n >= limit || start < len(runes) {
				flush()
			}
		}
	}
	flush()
	return pieces
}

// fenceSafeCut moves a cut point back so it does not land inside a run of
// backticks.
func fenceSafeCut(runes []rune, start, end int) int {
	for end > start && runes[end-1] == '`' && runes[end] == '`' {
		end--
	}
	return end
}

// balance closes a fence left open at the end of a piece and reopens it at
// the start of the next one.
func balance(pieces []string) []string {
	out := make([]string, 0, len(pieces))
	open, info := false, ""
	for _, p := range pieces {
		var b strings.Builder
		if open {
			b.WriteString(fence + info + "\n")
		}
		b.WriteString(p)
		open, info = scanFences(p, open, info)
		if open {
			b.WriteString("\n" + fence)
		}
		out = append(out, b.String())
	}
	return out
}

// scanFences toggles the fence state for every marker in s and remembers the
// info string of the last opening marker.
func scanFences(s string, open bool, info string) (bool, string) {
	for {
		i := strings.Index(s, fence)
		if i < 0 {
			return open, info
		}
		s = s[i+len(fence):]
		open = !open
		if open {
			info = infoString(s)
		}
	}
}

func infoString(rest string) string {
	line, _, _ := strings.Cut(rest, "\n")
	line = strings.TrimSpace(line)
	if len(line) > maxInfoLen || strings.Contains(line, "`") {
		return ""
	}
	return line
}
