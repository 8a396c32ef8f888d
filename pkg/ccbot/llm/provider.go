// Package llm implements the completion gateway for ccbot: a uniform call
// surface over two interchangeable chat-completion providers with retry,
// backoff and provider fallback.
package llm

import "context"

// ProviderID identifies which completion provider handles a conversation.
type ProviderID string

const (
	// Primary is the default provider, selected by the primary trigger prefixes.
	Primary ProviderID = "primary"

	// Secondary is the alternate provider, selected by the secondary prefixes.
	Secondary ProviderID = "secondary"
)

// Roles in the chat-completion message format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role/content entry in a completion request.
type Message struct {
	Role    string
	Content string
}

// Provider is the capability interface for a completion backend. The router
// selects a Provider once per session and uses Label/Marker for all
// provider-specific presentation, so no provider branching leaks elsewhere.
type Provider interface {
	// ID returns the provider identity.
	ID() ProviderID

	// Label returns the human-readable provider name for logs and replies.
	Label() string

	// Marker returns the emoji used to tag responses from this provider.
	Marker() string

	// Complete sends the message sequence and returns the full response text.
	// Never returns partial output.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// FrameConversation builds the message sequence for a completion request:
// a system entry carrying the base instructions (plus knowledge-base context
// when the lookup matched), the replayed history, then the current query.
func FrameConversation(instructions, knowledge string, history []Message, query string) []Message {
	system := instructions
	if knowledge != "" {
		system += "\n\n请参考以下知识库中的信息回答用户问题：\n" + knowledge
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: query})
	return messages
}
