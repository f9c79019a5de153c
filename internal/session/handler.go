package session

import (
	"context"
	"errors"
)

var (
	// ErrSessionLimit means the global session cap is reached.
	ErrSessionLimit = errors.New("global session limit reached")
	// ErrUserSessionLimit means the owner's session cap is reached.
	ErrUserSessionLimit = errors.New("user session limit reached")
	// ErrSessionExists means the requested session id is already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound means no live session has the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownUser means the owner has no user row.
	ErrUnknownUser = errors.New("unknown user")
)

// Handler drives one protocol connection. The production implementation
// wraps whatsmeow; tests substitute stubs via the manager's factory.
type Handler interface {
	// Init opens the connection. For an unpaired session it starts the QR
	// pairing flow and stores pairing codes as they rotate.
	Init(ctx context.Context) error
	// Connected reports whether the transport is currently up.
	Connected() bool
	// LoggedIn reports whether the session has paired credentials.
	LoggedIn() bool
	// SendText sends a plain text message and returns the message id.
	SendText(ctx context.Context, to, text string) (string, error)
	// SendPresence broadcasts the session's own presence state.
	SendPresence(ctx context.Context, state string) error
	// MarkRead sends read receipts for messages in a chat.
	MarkRead(ctx context.Context, chatJID string, messageIDs []string) error
	// Healthy reports whether the connection is currently usable.
	Healthy(ctx context.Context) error
	// Logout unpairs the session and deletes its device credentials.
	Logout(ctx context.Context) error
	// Close tears the connection down without unpairing.
	Close() error
}

// Factory builds a Handler for a session id.
type Factory func(ctx context.Context, sessionID string) (Handler, error)
