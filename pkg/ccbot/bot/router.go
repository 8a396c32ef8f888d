// router.go implements the per-message state machine: each inbound message
// is classified as a command/chat invocation, a continuation of an active
// session, or ignored, in strict priority order.
package bot

import (
	"context"
	"strings"

	"github.com/jholhewres/ccbot/pkg/ccbot/channels"
	"github.com/jholhewres/ccbot/pkg/ccbot/history"
	"github.com/jholhewres/ccbot/pkg/ccbot/llm"
	"github.com/jholhewres/ccbot/pkg/ccbot/session"
)

// maxReclassify bounds recursive re-classification of trigger variants.
const maxReclassify = 1

// route runs the classification state machine for one inbound message.
func (b *Bot) route(ctx context.Context, msg *channels.IncomingMessage, depth int) {
	// 1. The bot's own messages (and other bots) are ignored outright.
	if msg.FromBot || msg.From == b.platform.BotID() {
		return
	}

	// 2. Resolve whether this is a reply to the bot. Resolution failures are
	// logged and treated as "not a reply to the bot".
	replyToBot := false
	if msg.ReplyTo != "" {
		fetched, err := b.platform.FetchMessage(ctx, msg.ChatID, msg.ReplyTo)
		if err != nil {
			b.logger.Warn("failed to resolve replied-to message",
				"msg_id", msg.ID, "reply_to", msg.ReplyTo, "error", err)
		} else {
			replyToBot = fetched.AuthorID == b.platform.BotID()
		}
	}

	// 3. Trigger prefix match selects the provider for this invocation.
	providerID, query, triggered := b.matchTrigger(msg.Content)

	active := b.sessions.IsActive(msg.From, msg.ChatID)

	switch {
	// 4. A trigger always dispatches to the chat path. Whether a pending
	// confirmation swallows the text is decided inside the chat path.
	case triggered:
		forceNew := !active
		if active {
			if cur := b.sessions.Peek(msg.From, msg.ChatID); cur != nil && cur.Provider != providerID {
				// A trigger-prefix switch starts a fresh session even
				// inside the timeout window.
				forceNew = true
			}
		}
		sess := b.sessions.Touch(msg.From, msg.ChatID, forceNew, providerID)
		b.chat(ctx, msg, query, sess)

	// 5. Inside an active session, plain messages and replies to the bot
	// continue the conversation with the session's bound provider.
	case active && (msg.ReplyTo == "" || replyToBot):
		bound := llm.Primary
		if cur := b.sessions.Peek(msg.From, msg.ChatID); cur != nil {
			bound = cur.Provider
		}
		sess := b.sessions.Touch(msg.From, msg.ChatID, false, bound)
		b.chat(ctx, msg, msg.Content, sess)

	// 6. A reply to someone else draws no response but still keeps the
	// session alive.
	case active:
		if cur := b.sessions.Peek(msg.From, msg.ChatID); cur != nil {
			b.sessions.Touch(msg.From, msg.ChatID, false, cur.Provider)
		}
		// A trigger hidden behind leading whitespace re-enters the state
		// machine once, through the same entry point.
		if depth < maxReclassify {
			if trimmed := strings.TrimSpace(msg.Content); trimmed != msg.Content {
				if _, _, ok := b.matchTrigger(trimmed); ok {
					again := *msg
					again.Content = trimmed
					b.route(ctx, &again, depth+1)
				}
			}
		}

	// 7. Not for us.
	default:
	}
}

// matchTrigger checks the message against both providers' trigger prefixes,
// case-insensitively. On a match it returns the selected provider and the
// query with the prefix stripped.
func (b *Bot) matchTrigger(content string) (llm.ProviderID, string, bool) {
	if query, ok := stripPrefix(content, b.cfg.Providers.Primary.Prefixes); ok {
		return llm.Primary, query, true
	}
	if query, ok := stripPrefix(content, b.cfg.Providers.Secondary.Prefixes); ok {
		return llm.Secondary, query, true
	}
	return "", "", false
}

func stripPrefix(content string, prefixes []string) (string, bool) {
	lower := strings.ToLower(content)
	for _, p := range prefixes {
		lp := strings.ToLower(p)
		if lp != "" && strings.HasPrefix(lower, lp) {
			return strings.TrimSpace(content[len(lp):]), true
		}
	}
	return "", false
}

// chat runs the conversational path for a classified message.
func (b *Bot) chat(ctx context.Context, msg *channels.IncomingMessage, query string, sess session.Session) {
	// An affirmative for an outstanding confirmation belongs to that
	// workflow and must never reach the completion path.
	if b.confirms.Intercept(msg.From, msg.ChatID, query) {
		return
	}

	if isClearMemoryCommand(query) {
		b.clearMemory(ctx, msg)
		return
	}
	if isClearChannelCommand(query) {
		b.clearChannel(ctx, msg)
		return
	}

	if err := b.platform.SendTyping(ctx, msg.ChatID); err != nil {
		b.logger.Debug("typing indicator failed", "chat_id", msg.ChatID, "error", err)
	}

	var knowledgeAnswer string
	if b.kb != nil {
		knowledgeAnswer = b.kb.Search(query)
	}

	prior := b.store.Read(ctx, msg.From)
	if err := b.store.Append(ctx, msg.From, history.RoleUser, query, ""); err != nil {
		b.logger.Error("saving user message failed", "user", msg.From, "error", err)
	}

	messages := llm.FrameConversation(b.cfg.Instructions, knowledgeAnswer, toLLMMessages(prior), query)

	text, err := b.gateway.Complete(ctx, sess.Provider, messages)
	if err != nil {
		b.logger.Error("completion failed",
			"provider", string(sess.Provider), "user", msg.From, "error", err)
		b.reply(msg, msgGenericFailure)
		return
	}

	if err := b.store.Append(ctx, msg.From, history.RoleAssistant, text, string(sess.Provider)); err != nil {
		b.logger.Error("saving assistant reply failed", "user", msg.From, "error", err)
	}

	sentID := b.reply(msg, text)

	// The provider marker annotation is best-effort.
	if p := b.gateway.Provider(sess.Provider); p != nil && sentID != "" {
		if err := b.platform.React(ctx, msg.ChatID, sentID, p.Marker()); err != nil {
			b.logger.Warn("marker reaction failed",
				"chat_id", msg.ChatID, "msg_id", sentID, "error", err)
		}
	}

	if sess.IsNew && !sess.Notified {
		b.sessions.MarkNotified(msg.From, msg.ChatID)
	}
}

// toLLMMessages converts history entries into completion messages. The
// provider tag is deliberately dropped: the model only ever sees role and
// content.
func toLLMMessages(entries []history.Entry) []llm.Message {
	out := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, llm.Message{Role: e.Role, Content: e.Content})
	}
	return out
}
