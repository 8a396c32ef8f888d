// Package discord implements the Discord channel for ccbot using discordgo.
//
// Features:
//   - Send/receive text, replies with plain-send fallback
//   - Typing indicators and custom status
//   - Reactions (emoji)
//   - Message lookup for reply resolution
//   - Bulk deletion honoring Discord's 14-day ceiling
//   - Permission checks for message management
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/ccbot/pkg/ccbot/channels"
)

// bulkDeleteMaxAge is Discord's ceiling for bulk deletion: messages older
// than 14 days cannot be bulk-deleted.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// fetchBatchSize is the page size for message listing during a purge.
const fetchBatchSize = 100

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// Discord implements channels.Platform.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the bot.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	// Set intents.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	// Register handlers.
	session.AddHandler(d.onMessageCreate)

	// Open the WebSocket connection.
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)

	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel. When a reply reference
// is set and the referenced message is gone, it falls back to a plain send.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) (string, error) {
	if d.session == nil {
		return "", channels.ErrChannelDisconnected
	}

	content := message.Content

	// Discord has a 2000 character limit per message.
	chunks := splitMessage(content, 2000)

	var firstID string
	for i, chunk := range chunks {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		sent, err := d.session.ChannelMessageSendComplex(to, msgSend)
		if err != nil && i == 0 && message.ReplyTo != "" {
			// The replied-to message may have been deleted; retry plain.
			d.logger.Warn("discord: reply failed, sending without reference", "error", err)
			sent, err = d.session.ChannelMessageSendComplex(to, &discordgo.MessageSend{Content: chunk})
		}
		if err != nil {
			d.errorCount.Add(1)
			return firstID, err
		}
		if i == 0 {
			firstID = sent.ID
		}
	}
	return firstID, nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(to)
}

// SetStatus updates the bot's displayed status text.
func (d *Discord) SetStatus(ctx context.Context, status string) error {
	if d.session == nil {
		return nil
	}
	return d.session.UpdateCustomStatus(status)
}

// ---------- ReactionChannel Interface ----------

// React adds a reaction emoji to a message.
func (d *Discord) React(ctx context.Context, chatID, messageID, emoji string) error {
	if d.session == nil {
		return nil
	}
	return d.session.MessageReactionAdd(chatID, messageID, emoji)
}

// ---------- ModerationChannel Interface ----------

// BotID returns the bot's own user ID.
func (d *Discord) BotID() string {
	if d.session == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// FetchMessage resolves a message by ID within a chat.
func (d *Discord) FetchMessage(ctx context.Context, chatID, messageID string) (*channels.FetchedMessage, error) {
	if d.session == nil {
		return nil, channels.ErrChannelDisconnected
	}
	msg, err := d.session.ChannelMessage(chatID, messageID)
	if err != nil {
		return nil, fmt.Errorf("discord: fetching message %s: %w", messageID, err)
	}
	return &channels.FetchedMessage{
		ID:        msg.ID,
		AuthorID:  msg.Author.ID,
		AuthorBot: msg.Author.Bot,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}, nil
}

// ResolveChannel resolves a channel referenced in message text, either as a
// <#id> mention or by #name within the guild. Returns nil when the text
// references no channel.
func (d *Discord) ResolveChannel(ctx context.Context, guildID, text string) (*channels.ChannelInfo, error) {
	if d.session == nil {
		return nil, channels.ErrChannelDisconnected
	}

	ref := ParseChannelRef(text)
	if ref == nil {
		return nil, nil
	}

	if ref.ID != "" {
		ch, err := d.session.Channel(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("discord: resolving channel %s: %w", ref.ID, err)
		}
		return toChannelInfo(ch), nil
	}

	// Lookup by name within the guild.
	if guildID == "" {
		return nil, nil
	}
	guildChannels, err := d.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: listing guild channels: %w", err)
	}
	for _, ch := range guildChannels {
		if strings.EqualFold(ch.Name, ref.Name) {
			return toChannelInfo(ch), nil
		}
	}
	return nil, nil
}

// CanManageMessages reports whether the user has Manage Messages in the chat.
func (d *Discord) CanManageMessages(ctx context.Context, chatID, userID string) (bool, error) {
	return d.hasManageMessages(chatID, userID)
}

// BotCanManageMessages reports whether the bot has Manage Messages in the chat.
func (d *Discord) BotCanManageMessages(ctx context.Context, chatID string) (bool, error) {
	return d.hasManageMessages(chatID, d.BotID())
}

func (d *Discord) hasManageMessages(chatID, userID string) (bool, error) {
	if d.session == nil {
		return false, channels.ErrChannelDisconnected
	}
	perms, err := d.session.UserChannelPermissions(userID, chatID)
	if err != nil {
		return false, fmt.Errorf("discord: checking permissions: %w", err)
	}
	return perms&discordgo.PermissionManageMessages != 0, nil
}

// PurgeMessages bulk-deletes messages from the chat in batches of 100.
// Messages older than 14 days cannot be bulk-deleted; hitting them stops the
// purge and returns hitAgeLimit = true.
func (d *Discord) PurgeMessages(ctx context.Context, chatID string) (int, bool, error) {
	if d.session == nil {
		return 0, false, channels.ErrChannelDisconnected
	}

	deleted := 0
	beforeID := ""

	for {
		if err := ctx.Err(); err != nil {
			return deleted, false, err
		}

		msgs, err := d.session.ChannelMessages(chatID, fetchBatchSize, beforeID, "", "")
		if err != nil {
			return deleted, false, fmt.Errorf("discord: listing messages: %w", err)
		}
		if len(msgs) == 0 {
			return deleted, false, nil
		}
		beforeID = msgs[len(msgs)-1].ID

		cutoff := time.Now().Add(-bulkDeleteMaxAge)
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			if m.Timestamp.After(cutoff) {
				ids = append(ids, m.ID)
			}
		}

		if len(ids) == 0 {
			return deleted, true, nil
		}

		// Bulk delete needs at least two messages.
		if len(ids) == 1 {
			if err := d.session.ChannelMessageDelete(chatID, ids[0]); err != nil {
				return deleted, false, fmt.Errorf("discord: deleting message: %w", err)
			}
		} else if err := d.session.ChannelMessagesBulkDelete(chatID, ids); err != nil {
			return deleted, false, fmt.Errorf("discord: bulk deleting: %w", err)
		}
		deleted += len(ids)

		if len(ids) < len(msgs) {
			return deleted, true, nil
		}
	}
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself.
	if m.Author.ID == s.State.User.ID {
		return
	}

	// Apply guild filter.
	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return
	}

	// Apply channel filter.
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		FromBot:   m.Author.Bot,
		ChatID:    m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	// Handle replies.
	if m.MessageReference != nil {
		incoming.ReplyTo = m.MessageReference.MessageID
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// ---------- Helpers ----------

// ChannelRef is a channel reference parsed from message text.
type ChannelRef struct {
	// ID is set when the text contains a <#id> mention.
	ID string
	// Name is set when the text contains a #name reference.
	Name string
}

var (
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	channelNameRe    = regexp.MustCompile(`#(\S+)`)
)

// ParseChannelRef extracts the first channel reference from message text.
// <#id> mentions take precedence over bare #name references.
func ParseChannelRef(text string) *ChannelRef {
	if m := channelMentionRe.FindStringSubmatch(text); m != nil {
		return &ChannelRef{ID: m[1]}
	}
	if m := channelNameRe.FindStringSubmatch(text); m != nil {
		return &ChannelRef{Name: m[1]}
	}
	return nil
}

func toChannelInfo(ch *discordgo.Channel) *channels.ChannelInfo {
	return &channels.ChannelInfo{
		ID:     ch.ID,
		Name:   ch.Name,
		IsText: ch.Type == discordgo.ChannelTypeGuildText,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// splitMessage splits a message into chunks respecting the 2000 char limit.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Try to split at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var _ channels.Platform = (*Discord)(nil)
