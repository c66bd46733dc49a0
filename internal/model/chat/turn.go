package chat

import "time"

// TurnState tracks where a turn is in its lifecycle.
type TurnState string

const (
	TurnIdle          TurnState = "idle"
	TurnListening     TurnState = "listening"
	TurnSending       TurnState = "sending"
	TurnAwaitingReply TurnState = "awaiting_reply"
	TurnRendered      TurnState = "rendered"
)

// Turn is one user message plus its bot reply.
type Turn struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	State      TurnState `json:"state"`
	Reply      string    `json:"reply,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Request is the body posted to the chat endpoint.
type Request struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

// Response is the body expected back from the chat endpoint.
type Response struct {
	Reply string `json:"reply"`
}
