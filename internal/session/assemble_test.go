package session

import (
	"testing"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/provider"
)

func TestAssembleEmptyConversation(t *testing.T) {
	input := provider.TextMessage(provider.RoleUser, "hello")
	msgs := Assemble("anchor", "", nil, 12, input)
	if len(msgs) != 2 {
		t.Fatalf("expected [anchor, input], got %d messages", len(msgs))
	}
	if msgs[0].Role != provider.RoleSystem || msgs[0].Text() != "anchor" {
		t.Fatal("anchor must come first")
	}
	if msgs[1].Text() != "hello" {
		t.Fatal("input must come last")
	}
}

func TestAssembleOrderAndCount(t *testing.T) {
	input := provider.TextMessage(provider.RoleUser, "next")
	for _, n := range []int{0, 3, 12, 13, 30} {
		for _, summary := range []string{"", "facts"} {
			history := turns("c", n)
			msgs := Assemble("anchor", summary, history, 12, input)

			hasSummary := 0
			if summary != "" {
				hasSummary = 1
			}
			want := 1 + hasSummary + min(n, 12) + 1
			if len(msgs) != want {
				t.Fatalf("n=%d summary=%q: %d messages, want %d", n, summary, len(msgs), want)
			}
			if msgs[0].Text() != "anchor" {
				t.Fatal("anchor must be first")
			}
			if summary != "" && (msgs[1].Role != provider.RoleSystem || msgs[1].Text() != "[summary]\nfacts") {
				t.Fatalf("summary block must be second, got %+v", msgs[1])
			}
			if msgs[len(msgs)-1].Text() != "next" {
				t.Fatal("input must be last")
			}

			window := msgs[1+hasSummary : len(msgs)-1]
			live := LiveRecords(history)
			for i, m := range window {
				rec := live[len(live)-len(window)+i]
				if m.Text() != rec.Content {
					t.Fatalf("window out of order at %d", i)
				}
				wantRole := provider.RoleUser
				if rec.Role == conversation.RoleAssistant {
					wantRole = provider.RoleAssistant
				}
				if m.Role != wantRole {
					t.Fatalf("role mismatch at %d", i)
				}
			}
		}
	}
}

func TestAssembleNoSummaryWithinWindow(t *testing.T) {
	history := turns("c", 8)
	msgs := Assemble("anchor", "", history, 12, provider.TextMessage(provider.RoleUser, "q"))
	for _, m := range msgs[1:] {
		if m.Role == provider.RoleSystem {
			t.Fatal("no summary block expected")
		}
	}
	if len(msgs) != 10 {
		t.Fatalf("every live record should be included, got %d messages", len(msgs))
	}
}

func TestAssembleSkipsSummaryRecords(t *testing.T) {
	history := append(turns("c", 4), summaryRecord("c", "s"))
	msgs := Assemble("anchor", "s", history, 12, provider.TextMessage(provider.RoleUser, "q"))
	if len(msgs) != 1+1+4+1 {
		t.Fatalf("summary records must not enter the window, got %d messages", len(msgs))
	}
}
