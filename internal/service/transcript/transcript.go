package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/smartguard/internal/model/chat"
)

// Observer mirrors transcript changes into a view. Callbacks run with the
// transcript locked, in the order the changes happened, and must not call
// back into the Transcript.
type Observer interface {
	Appended(msg chat.Message)
	Replaced(id string, msg chat.Message)
	Removed(id string)
	ScrolledToLatest()
}

// Transcript is the ordered list of messages shown in one widget. Messages
// are only ever appended, except placeholders which are replaced or removed
// by the turn that created them.
type Transcript struct {
	mu       sync.Mutex
	entries  []chat.Message
	observer Observer
	now      func() time.Time
	newID    func() string
}

// New returns an empty transcript reporting to obs. obs may be nil.
func New(obs Observer) *Transcript {
	return &Transcript{
		observer: obs,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Append renders text from sender and adds it as the latest entry.
func (t *Transcript) Append(sender chat.Sender, text string) chat.Message {
	return t.appendMessage(t.message(sender, text, ""))
}

// AppendTurn is Append with the message tagged to turnID.
func (t *Transcript) AppendTurn(turnID string, sender chat.Sender, text string) chat.Message {
	return t.appendMessage(t.message(sender, text, turnID))
}

// AppendPlaceholder adds the typing indicator for turnID.
func (t *Transcript) AppendPlaceholder(turnID string) chat.Message {
	msg := chat.Message{
		ID:          t.newID(),
		TurnID:      turnID,
		Sender:      chat.SenderBot,
		Text:        chat.PlaceholderText,
		HTML:        renderPlaceholder(),
		Placeholder: true,
		CreatedAt:   t.now(),
	}
	return t.appendMessage(msg)
}

// ResolvePlaceholder replaces the placeholder of turnID with a bot message
// carrying text. When the placeholder no longer exists the message is
// appended instead, so a reply is never lost.
func (t *Transcript) ResolvePlaceholder(turnID string, text string) chat.Message {
	msg := t.message(chat.SenderBot, text, turnID)

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.placeholderIndex(turnID)
	if idx < 0 {
		t.entries = append(t.entries, msg)
		t.notify(func(o Observer) {
			o.Appended(msg)
			o.ScrolledToLatest()
		})
		return msg
	}
	placeholderID := t.entries[idx].ID
	t.entries[idx] = msg

	t.notify(func(o Observer) {
		o.Replaced(placeholderID, msg)
		o.ScrolledToLatest()
	})
	return msg
}

// RemovePlaceholder drops the placeholder of turnID, reporting whether one
// was present.
func (t *Transcript) RemovePlaceholder(turnID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.placeholderIndex(turnID)
	if idx < 0 {
		return false
	}
	id := t.entries[idx].ID
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)

	t.notify(func(o Observer) { o.Removed(id) })
	return true
}

// Messages returns a copy of all entries in display order.
func (t *Transcript) Messages() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chat.Message(nil), t.entries...)
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Last returns the latest entry.
func (t *Transcript) Last() (chat.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == 0 {
		return chat.Message{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Replay calls fn with the current entries while the transcript is locked,
// so no change can be observed between the copy and fn returning. fn must
// not call back into the Transcript.
func (t *Transcript) Replay(fn func(msgs []chat.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(append([]chat.Message(nil), t.entries...))
}

func (t *Transcript) message(sender chat.Sender, text, turnID string) chat.Message {
	return chat.Message{
		ID:        t.newID(),
		TurnID:    turnID,
		Sender:    sender,
		Text:      text,
		HTML:      RenderHTML(sender, text),
		CreatedAt: t.now(),
	}
}

func (t *Transcript) appendMessage(msg chat.Message) chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, msg)
	t.notify(func(o Observer) {
		o.Appended(msg)
		o.ScrolledToLatest()
	})
	return msg
}

// placeholderIndex must be called with mu held.
func (t *Transcript) placeholderIndex(turnID string) int {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Placeholder && t.entries[i].TurnID == turnID {
			return i
		}
	}
	return -1
}

func (t *Transcript) notify(fn func(Observer)) {
	if t.observer != nil {
		fn(t.observer)
	}
}
