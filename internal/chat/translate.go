package chat

import "github.com/kalambet/chatrelay/internal/upstream"

// Translate builds the upstream conversation: the system instruction, every
// history turn in order, then the new user message. req is not modified.
func Translate(req Request, instruction string) []upstream.Message {
	msgs := make([]upstream.Message, 0, len(req.History)+2)
	msgs = append(msgs, upstream.Message{Role: upstream.RoleSystem, Content: instruction})
	for _, t := range req.History {
		msgs = append(msgs, upstream.Message{Role: t.Role, Content: t.Message})
	}
	return append(msgs, upstream.Message{Role: upstream.RoleUser, Content: req.Message})
}
