package session

import (
	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/provider"
)

// SummaryLabel prefixes the summary system block.
const SummaryLabel = "[summary]\n"

// Assemble builds the message list for one model call: the anchor prompt,
// the summary block when there is one, the live window and the new input,
// in that order.
func Assemble(anchor, summary string, history []conversation.Record, keepLast int, input provider.Message) []provider.Message {
	window := Window(history, keepLast)
	msgs := make([]provider.Message, 0, len(window)+3)

	msgs = append(msgs, provider.TextMessage(provider.RoleSystem, anchor))
	if summary != "" {
		msgs = append(msgs, provider.TextMessage(provider.RoleSystem, SummaryLabel+summary))
	}
	for _, r := range window {
		role := provider.RoleUser
		if r.Role == conversation.RoleAssistant {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.TextMessage(role, r.Content))
	}
	return append(msgs, input)
}
