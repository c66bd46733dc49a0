package chat

import "time"

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Label returns the display label rendered in front of a message.
func (s Sender) Label() string {
	switch s {
	case SenderUser:
		return "🧑‍🎓 You"
	case SenderBot:
		return "🤖 SmartGuard"
	default:
		return string(s)
	}
}

const (
	// PlaceholderText is shown while a turn awaits its reply.
	PlaceholderText = "🤖 SmartGuard is typing..."
	// FallbackReply replaces the reply whenever the chat endpoint fails.
	FallbackReply = "⚠️ Sorry, something went wrong processing your question."
)

// Message is one transcript entry. Apart from placeholders, entries are never
// mutated after they are appended.
type Message struct {
	ID          string    `json:"id"`
	TurnID      string    `json:"turnId,omitempty"`
	Sender      Sender    `json:"sender"`
	Text        string    `json:"text"`
	HTML        string    `json:"html"`
	Placeholder bool      `json:"placeholder,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Line renders the message as "label: text".
func (m Message) Line() string {
	if m.Placeholder {
		return m.Text
	}
	return m.Sender.Label() + ": " + m.Text
}
