// ABOUTME: Capability contract every chat backend must satisfy.
// ABOUTME: The orchestrator is written only against Bot and Conversation.

package frontend

import "context"

// Identity names a user within one frontend namespace. Frontend is the
// backend's name ("terminal", "slack", "matrix", "webchat") and UserID the
// transport-level user identifier inside it.
type Identity struct {
	Frontend string
	UserID   string
}

// String renders the identity as "frontend|user", the form the settings
// store keys records by.
func (id Identity) String() string {
	return id.Frontend + "|" + id.UserID
}

// Message is one inbound user utterance.
type Message struct {
	From Identity
	Text string
}

// Conversation is one live exchange with a single user on a single thread.
type Conversation interface {
	// Send delivers text to the user. Fire-and-forget: an error reports a
	// transport failure only.
	Send(ctx context.Context, text string) error

	// Recv suspends until the user's next message on this thread arrives
	// and returns its text. It is subject to the configured reply timeout.
	Recv(ctx context.Context) (string, error)

	// Who identifies the user on the other end.
	Who() Identity
}

// ConverseFunc handles a brand-new conversation. text is the message that
// started it; conv carries the rest of the exchange. The conversation ends
// when the func returns.
type ConverseFunc func(ctx context.Context, text string, conv Conversation)

// Bot is a chat backend. Implementations deliver inbound events through a
// Dispatcher, which resumes waiting conversations or starts new ones via the
// registered hook.
type Bot interface {
	// Name returns the backend's namespace.
	Name() string

	// OnConverse registers the handler invoked for each new conversation.
	// It must be called before Run.
	OnConverse(fn ConverseFunc)

	// Run connects to the transport and blocks until ctx is done or the
	// transport fails.
	Run(ctx context.Context) error
}
