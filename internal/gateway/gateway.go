// Package gateway defines the messenger contract the help desk talks through:
// direct chats with users plus a shared space of per-dialog threads.
// Platform implementations live in the discord and slack subpackages.
package gateway

import (
	"context"
	"time"
)

// Gateway is the interface that platform-specific implementations must satisfy.
type Gateway interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// SendText posts text to a user's direct chat or to a thread.
	SendText(ctx context.Context, to Target, text string) (MessageRef, error)

	// CopyMessage re-posts an existing message (text and attachments) to a target.
	CopyMessage(ctx context.Context, to Target, from MessageRef) (MessageRef, error)

	// EditMessage replaces the text of a message the bot posted earlier.
	EditMessage(ctx context.Context, ref MessageRef, text string) error

	// CreateThread opens a new dialog thread and returns its handle.
	CreateThread(ctx context.Context, name string) (string, error)

	// CloseThread archives a thread so it no longer accepts activity.
	CloseThread(ctx context.Context, threadID string) error

	// ReopenThread reverses CloseThread.
	ReopenThread(ctx context.Context, threadID string) error

	// RenameThread changes a thread's title and status icon.
	RenameThread(ctx context.Context, threadID, name string, icon Icon) error

	// DeleteThread removes a thread entirely.
	DeleteThread(ctx context.Context, threadID string) error

	// Close gracefully shuts down the connection.
	Close() error
}

// Icon is a platform-neutral thread status marker.
type Icon string

const (
	IconNew     Icon = "new"     // waiting for a supervisor
	IconClaimed Icon = "claimed" // a supervisor holds the dialog
	IconClosed  Icon = "closed"  // archived after close
	IconLost    Icon = "lost"    // thread with no known dialog
)

// Target addresses either a user's direct chat (ChatID) or a dialog thread
// (ThreadID). ThreadID wins when both are set.
type Target struct {
	ChatID   string
	ThreadID string
}

// ToUser returns a Target for the direct chat with userID.
func ToUser(userID string) Target { return Target{ChatID: userID} }

// ToThread returns a Target for a dialog thread.
func ToThread(threadID string) Target { return Target{ThreadID: threadID} }

// IsThread reports whether the target is a dialog thread.
func (t Target) IsThread() bool { return t.ThreadID != "" }

// MessageRef identifies a message on the platform.
type MessageRef struct {
	ChatID    string // channel/conversation holding the message
	MessageID string
}

// IsZero reports whether the reference is empty.
func (r MessageRef) IsZero() bool { return r.ChatID == "" && r.MessageID == "" }

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	ChatID    string    // channel the message was posted in
	ThreadID  string    // dialog thread handle; empty for direct chats
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	MessageID string    // platform message identifier
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
	Edited    bool      // the sender changed an earlier message; Text is the new body
}

// Ref returns a reference to the inbound message itself.
func (m InboundMessage) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, MessageID: m.MessageID}
}

// InThread reports whether the message was posted in a dialog thread.
func (m InboundMessage) InThread() bool { return m.ThreadID != "" }
