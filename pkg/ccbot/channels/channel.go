// Package channels defines the interfaces and types for ccbot communication
// channels. The Discord adapter implements these so the router can be driven
// by fakes in tests.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat. Returns the ID of the sent
	// message so callers can annotate it (reactions).
	Send(ctx context.Context, to string, message *OutgoingMessage) (string, error)

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// PresenceChannel extends Channel with typing/status indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, to string) error

	// SetStatus updates the bot's displayed status text.
	SetStatus(ctx context.Context, status string) error
}

// ReactionChannel extends Channel with message reaction support.
type ReactionChannel interface {
	Channel

	// React adds a reaction emoji to a specific message.
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// ModerationChannel extends Channel with the operations needed by the
// destructive admin commands: message lookup, permission checks and bulk
// deletion.
type ModerationChannel interface {
	Channel

	// BotID returns the bot's own user ID on the platform.
	BotID() string

	// FetchMessage resolves a message by ID within a chat.
	FetchMessage(ctx context.Context, chatID, messageID string) (*FetchedMessage, error)

	// ResolveChannel resolves a channel referenced in message text, either as
	// a platform mention (<#id>) or by #name within the guild. Returns nil
	// when the text references no channel.
	ResolveChannel(ctx context.Context, guildID, text string) (*ChannelInfo, error)

	// CanManageMessages reports whether the given user may manage messages in
	// the chat.
	CanManageMessages(ctx context.Context, chatID, userID string) (bool, error)

	// BotCanManageMessages reports whether the bot itself may manage messages
	// in the chat.
	BotCanManageMessages(ctx context.Context, chatID string) (bool, error)

	// PurgeMessages bulk-deletes messages from the chat in batches, honoring
	// the platform's deletion-age ceiling. Returns the number of deleted
	// messages and whether the age ceiling stopped the purge early.
	PurgeMessages(ctx context.Context, chatID string) (deleted int, hitAgeLimit bool, err error)
}

// Platform is the full capability set the router consumes.
type Platform interface {
	Channel
	PresenceChannel
	ReactionChannel
	ModerationChannel
}

// IncomingMessage represents a message received from a channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "discord").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// FromBot indicates the sender is a bot account.
	FromBot bool

	// ChatID is the channel or DM identifier.
	ChatID string

	// GuildID is the guild (server) the message belongs to, empty for DMs.
	GuildID string

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to, if any.
	ReplyTo string
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to. When the reply
	// reference cannot be honored the adapter falls back to a plain send.
	ReplyTo string
}

// FetchedMessage is a message resolved by ID.
type FetchedMessage struct {
	ID        string
	AuthorID  string
	AuthorBot bool
	Content   string
	Timestamp time.Time
}

// ChannelInfo describes a resolved chat channel.
type ChannelInfo struct {
	ID     string
	Name   string
	IsText bool
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrMessageNotFound     = fmt.Errorf("message not found")
)
