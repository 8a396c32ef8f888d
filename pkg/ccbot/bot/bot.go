// Package bot implements the main orchestrator for ccbot.
// Coordinates the chat platform, session tracking, chat history, the
// confirmation workflow and the completion gateway to process user messages.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/ccbot/pkg/ccbot/channels"
	"github.com/jholhewres/ccbot/pkg/ccbot/confirm"
	"github.com/jholhewres/ccbot/pkg/ccbot/history"
	"github.com/jholhewres/ccbot/pkg/ccbot/knowledge"
	"github.com/jholhewres/ccbot/pkg/ccbot/llm"
	"github.com/jholhewres/ccbot/pkg/ccbot/session"
)

// User-facing reply strings.
const (
	msgGenericFailure = "很抱歉，处理您的请求时出现了问题。请稍后再试。"
	msgCancelled      = "操作已取消：没有收到确认回复。"
)

// Bot is the main orchestrator.
// Message flow: receive → classify (trigger / session / ignore) →
// confirmation intercept → destructive command or chat path → reply + marker.
type Bot struct {
	cfg *Config

	// platform is the chat platform adapter.
	platform channels.Platform

	// gateway is the completion call surface over both providers.
	gateway *llm.Gateway

	// sessions tracks active conversations per (user, channel).
	sessions *session.Manager

	// store is the durable chat-history store.
	store *history.Store

	// confirms tracks outstanding destructive-action confirmations.
	confirms *confirm.Tracker

	// kb is the static knowledge base, nil when not configured.
	kb *knowledge.Base

	// presence rotates the bot status, nil when disabled.
	presence *presenceRotator

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Bot with all dependencies injected.
func New(cfg *Config, platform channels.Platform, gateway *llm.Gateway,
	sessions *session.Manager, store *history.Store, confirms *confirm.Tracker,
	kb *knowledge.Base, logger *slog.Logger) *Bot {

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		cfg:      cfg,
		platform: platform,
		gateway:  gateway,
		sessions: sessions,
		store:    store,
		confirms: confirms,
		kb:       kb,
		logger:   logger,
	}
}

// Start connects the platform and launches the processing loops.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.logger.Info("starting ccbot",
		"name", b.cfg.Name,
		"primary_model", b.cfg.Providers.Primary.Model,
		"secondary_model", b.cfg.Providers.Secondary.Model,
	)

	if err := b.platform.Connect(b.ctx); err != nil {
		return err
	}

	b.sessions.StartSweeper(b.ctx)
	b.startPresence(b.ctx)

	go b.messageLoop()

	b.logger.Info("ccbot started")
	return nil
}

// Stop gracefully shuts down the bot.
func (b *Bot) Stop() {
	b.logger.Info("stopping ccbot...")

	if b.cancel != nil {
		b.cancel()
	}
	b.stopPresence()
	if err := b.platform.Disconnect(); err != nil {
		b.logger.Error("platform disconnect failed", "error", err)
	}

	b.logger.Info("ccbot stopped")
}

// messageLoop processes messages from the platform.
func (b *Bot) messageLoop() {
	for {
		select {
		case msg, ok := <-b.platform.Receive():
			if !ok {
				return
			}
			go b.handleMessage(msg)

		case <-b.ctx.Done():
			return
		}
	}
}

// handleMessage is the top of the per-message path. Any unexpected fault is
// caught here, logged, and answered with a generic failure message so the
// bot never leaves a chat-path message unanswered.
func (b *Bot) handleMessage(msg *channels.IncomingMessage) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in message handler",
				"msg_id", msg.ID, "from", msg.From, "panic", r)
			b.reply(msg, msgGenericFailure)
		}
	}()

	b.route(b.ctx, msg, 0)

	b.logger.Debug("message handled",
		"msg_id", msg.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// reply sends content as a reply to the original message. Send failures are
// logged, never propagated.
func (b *Bot) reply(msg *channels.IncomingMessage, content string) string {
	id, err := b.platform.Send(b.ctx, msg.ChatID, &channels.OutgoingMessage{
		Content: content,
		ReplyTo: msg.ID,
	})
	if err != nil {
		b.logger.Error("failed to send reply",
			"chat_id", msg.ChatID, "error", err)
	}
	return id
}

// send posts content to a chat without a reply reference.
func (b *Bot) send(chatID, content string) {
	if _, err := b.platform.Send(b.ctx, chatID, &channels.OutgoingMessage{Content: content}); err != nil {
		b.logger.Error("failed to send message",
			"chat_id", chatID, "error", err)
	}
}
