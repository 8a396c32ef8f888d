// commands.go implements the destructive admin commands (channel purge and
// memory wipe), both gated behind the confirmation workflow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jholhewres/ccbot/pkg/ccbot/channels"
	"github.com/jholhewres/ccbot/pkg/ccbot/confirm"
)

// Confirmation-gated command replies.
const (
	msgConfirmPending = "已有一个等待确认的操作，请先处理或等待其超时。"

	msgClearNoPermission    = "很抱歉，您没有权限清除频道内容。需要拥有「管理消息」权限。"
	msgClearNotTextChannel  = "只能清除文本频道的内容。"
	msgClearBotNoPermission = "我没有在 <#%s> 中管理消息的权限。"
	msgClearPrompt          = "确定要清除 <#%s> 频道的消息吗？请在%d秒内回复「确定」或「是」确认操作。"
	msgClearStarted         = "开始清除 <#%s> 的消息..."
	msgClearAgeLimit        = "无法删除两周以前的消息，操作已完成。"
	msgClearDone            = "已成功清除 <#%s> 中的 %d 条消息。"
	msgClearFailed          = "清除消息时发生错误，请稍后再试。"

	msgMemoryPrompt = "我理解您想要清除我们之间的聊天记忆。这将会删除我保存的所有对话历史，让我们可以重新开始对话。请在%d秒内回复「确定」或「是」确认操作。"
	msgMemoryDone   = "已成功清除我们之间的所有聊天记忆。从现在开始，我们可以开始新的对话了。如果您有任何问题，随时都可以问我！"
	msgMemoryFailed = "抱歉，清除聊天记忆时出现了技术问题。请稍后再试一次。如果问题持续存在，请联系管理员。"
)

var (
	clearVerbs   = []string{"清除", "删除", "清理", "清空", "clear"}
	clearTargets = []string{"内容", "消息", "聊天", "频道", "channel", "message"}

	memoryVerbs   = []string{"清除", "删除", "清理", "重置", "忘记", "forget", "reset"}
	memoryTargets = []string{"记忆", "记录", "历史", "memory", "history", "conversation"}
)

// isClearChannelCommand detects channel-purge intent: the text must carry
// both a deletion verb and a channel target, case-insensitively.
func isClearChannelCommand(text string) bool {
	return containsAny(text, clearVerbs) && containsAny(text, clearTargets)
}

// isClearMemoryCommand detects memory-wipe intent.
func isClearMemoryCommand(text string) bool {
	return containsAny(text, memoryVerbs) && containsAny(text, memoryTargets)
}

func containsAny(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	for _, t := range tokens {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// clearChannel runs the channel purge: resolve the target, check both sides'
// permissions, then confirm before deleting anything.
func (b *Bot) clearChannel(ctx context.Context, msg *channels.IncomingMessage) {
	target, err := b.platform.ResolveChannel(ctx, msg.GuildID, msg.Content)
	if err != nil {
		b.logger.Warn("channel resolution failed", "guild", msg.GuildID, "error", err)
	}
	if target == nil {
		// No explicit reference: operate on the channel the command came from.
		target = &channels.ChannelInfo{ID: msg.ChatID, IsText: true}
	}

	if !target.IsText {
		b.reply(msg, msgClearNotTextChannel)
		return
	}

	allowed, err := b.platform.CanManageMessages(ctx, target.ID, msg.From)
	if err != nil {
		b.logger.Error("permission check failed",
			"channel", target.ID, "user", msg.From, "error", err)
		b.reply(msg, msgGenericFailure)
		return
	}
	if !allowed {
		b.reply(msg, msgClearNoPermission)
		return
	}

	botAllowed, err := b.platform.BotCanManageMessages(ctx, target.ID)
	if err != nil {
		b.logger.Error("bot permission check failed", "channel", target.ID, "error", err)
		b.reply(msg, msgGenericFailure)
		return
	}
	if !botAllowed {
		b.reply(msg, fmt.Sprintf(msgClearBotNoPermission, target.ID))
		return
	}

	req, err := b.confirms.Propose(msg.From, msg.ChatID, "clear-channel:"+target.ID)
	if err != nil {
		if errors.Is(err, confirm.ErrPending) {
			b.reply(msg, msgConfirmPending)
			return
		}
		b.logger.Error("proposing confirmation failed", "error", err)
		b.reply(msg, msgGenericFailure)
		return
	}

	b.reply(msg, fmt.Sprintf(msgClearPrompt, target.ID, b.cfg.Confirm.TimeoutSeconds))

	switch req.Await(ctx) {
	case confirm.Confirmed:
		b.send(msg.ChatID, fmt.Sprintf(msgClearStarted, target.ID))

		deleted, hitAgeLimit, err := b.platform.PurgeMessages(ctx, target.ID)
		if err != nil {
			b.logger.Error("purge failed",
				"channel", target.ID, "deleted", deleted, "error", err)
			b.send(msg.ChatID, msgClearFailed)
			return
		}
		if hitAgeLimit {
			b.send(msg.ChatID, msgClearAgeLimit)
		}
		b.send(msg.ChatID, fmt.Sprintf(msgClearDone, target.ID, deleted))
		b.logger.Info("channel purged",
			"channel", target.ID, "by", msg.From, "deleted", deleted)

	case confirm.TimedOut:
		b.send(msg.ChatID, msgCancelled)

	case confirm.Canceled:
		// Shutdown in flight; nothing to report.
	}
}

// clearMemory wipes the user's stored conversation history after an explicit
// confirmation.
func (b *Bot) clearMemory(ctx context.Context, msg *channels.IncomingMessage) {
	req, err := b.confirms.Propose(msg.From, msg.ChatID, "clear-memory")
	if err != nil {
		if errors.Is(err, confirm.ErrPending) {
			b.reply(msg, msgConfirmPending)
			return
		}
		b.logger.Error("proposing confirmation failed", "error", err)
		b.reply(msg, msgGenericFailure)
		return
	}

	b.reply(msg, fmt.Sprintf(msgMemoryPrompt, b.cfg.Confirm.TimeoutSeconds))

	switch req.Await(ctx) {
	case confirm.Confirmed:
		if err := b.store.Clear(ctx, msg.From); err != nil {
			b.logger.Error("clearing history failed", "user", msg.From, "error", err)
			b.send(msg.ChatID, msgMemoryFailed)
			return
		}
		b.send(msg.ChatID, msgMemoryDone)
		b.logger.Info("history cleared", "user", msg.From)

	case confirm.TimedOut:
		b.send(msg.ChatID, msgCancelled)

	case confirm.Canceled:
	}
}
