package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/ccbot/pkg/ccbot/channels"
	"github.com/jholhewres/ccbot/pkg/ccbot/confirm"
	"github.com/jholhewres/ccbot/pkg/ccbot/history"
	"github.com/jholhewres/ccbot/pkg/ccbot/knowledge"
	"github.com/jholhewres/ccbot/pkg/ccbot/llm"
	"github.com/jholhewres/ccbot/pkg/ccbot/session"
)

// fakePlatform implements channels.Platform and records every outbound call.
type fakePlatform struct {
	mu sync.Mutex

	botID string

	sent      []sentMessage
	reactions []sentReaction
	typing    int
	statuses  []string

	fetched    map[string]*channels.FetchedMessage
	fetchErr   error
	resolved   *channels.ChannelInfo
	userPerm   bool
	botPerm    bool
	purged     int
	purgeAge   bool
	purgeErr   error
	purgeCalls int
}

type sentMessage struct {
	chatID  string
	content string
	replyTo string
}

type sentReaction struct {
	chatID string
	msgID  string
	emoji  string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		botID:    "bot-1",
		fetched:  make(map[string]*channels.FetchedMessage),
		userPerm: true,
		botPerm:  true,
	}
}

func (f *fakePlatform) Name() string                      { return "fake" }
func (f *fakePlatform) Connect(ctx context.Context) error { return nil }
func (f *fakePlatform) Disconnect() error                 { return nil }
func (f *fakePlatform) Receive() <-chan *channels.IncomingMessage {
	return nil
}
func (f *fakePlatform) IsConnected() bool               { return true }
func (f *fakePlatform) Health() channels.HealthStatus   { return channels.HealthStatus{Connected: true} }
func (f *fakePlatform) BotID() string                   { return f.botID }
func (f *fakePlatform) SendTyping(ctx context.Context, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}
func (f *fakePlatform) SetStatus(ctx context.Context, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakePlatform) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: to, content: msg.Content, replyTo: msg.ReplyTo})
	return "sent-1", nil
}

func (f *fakePlatform) React(ctx context.Context, chatID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, sentReaction{chatID: chatID, msgID: messageID, emoji: emoji})
	return nil
}

func (f *fakePlatform) FetchMessage(ctx context.Context, chatID, messageID string) (*channels.FetchedMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if m, ok := f.fetched[messageID]; ok {
		return m, nil
	}
	return nil, channels.ErrMessageNotFound
}

func (f *fakePlatform) ResolveChannel(ctx context.Context, guildID, text string) (*channels.ChannelInfo, error) {
	return f.resolved, nil
}

func (f *fakePlatform) CanManageMessages(ctx context.Context, chatID, userID string) (bool, error) {
	return f.userPerm, nil
}

func (f *fakePlatform) BotCanManageMessages(ctx context.Context, chatID string) (bool, error) {
	return f.botPerm, nil
}

func (f *fakePlatform) PurgeMessages(ctx context.Context, chatID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCalls++
	return f.purged, f.purgeAge, f.purgeErr
}

func (f *fakePlatform) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

var _ channels.Platform = (*fakePlatform)(nil)

// scriptedProvider returns canned responses and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	id       llm.ProviderID
	label    string
	marker   string
	response string
	err      error
	requests [][]llm.Message
}

func (p *scriptedProvider) ID() llm.ProviderID { return p.id }
func (p *scriptedProvider) Label() string      { return p.label }
func (p *scriptedProvider) Marker() string     { return p.marker }

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, messages)
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// memKV is an in-memory history.KV for router tests.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", history.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type botFixture struct {
	bot       *Bot
	platform  *fakePlatform
	primary   *scriptedProvider
	secondary *scriptedProvider
	kv        *memKV
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	platform := newFakePlatform()
	primary := &scriptedProvider{id: llm.Primary, label: "OpenAI", marker: "💬", response: "primary answer"}
	secondary := &scriptedProvider{id: llm.Secondary, label: "DeepSeek", marker: "🧠", response: "secondary answer"}
	kv := newMemKV()

	cfg := DefaultConfig()
	cfg.Confirm.TimeoutSeconds = 1

	b := New(cfg,
		platform,
		llm.NewGateway(primary, secondary, logger),
		session.NewManager(30*time.Second, 10*time.Second, logger),
		history.New(kv, 0, 0, logger),
		confirm.NewTracker(confirm.Config{Timeout: time.Second}, logger),
		nil,
		logger,
	)
	b.ctx = context.Background()

	return &botFixture{bot: b, platform: platform, primary: primary, secondary: secondary, kv: kv}
}

func incoming(from, chatID, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "msg-1",
		Channel:   "fake",
		From:      from,
		FromName:  from,
		ChatID:    chatID,
		GuildID:   "guild-1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestRouteTriggerStartsSession(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc 你好"), 0)

	sent := f.platform.sentMessages()
	if len(sent) != 1 || sent[0].content != "primary answer" {
		t.Fatalf("expected one primary reply, got %+v", sent)
	}
	if !f.bot.sessions.IsActive("u1", "c1") {
		t.Fatal("session should be active after a trigger")
	}
	if s := f.bot.sessions.Peek("u1", "c1"); s == nil || s.Provider != llm.Primary {
		t.Fatalf("session should be bound to the primary provider, got %+v", s)
	}
	if len(f.platform.reactions) != 1 || f.platform.reactions[0].emoji != "💬" {
		t.Fatalf("expected the primary marker reaction, got %+v", f.platform.reactions)
	}
	// The trigger prefix must not leak into the query.
	req := f.primary.requests[0]
	if got := req[len(req)-1].Content; got != "你好" {
		t.Fatalf("query not stripped: %q", got)
	}
}

func TestRouteTriggerCaseInsensitive(t *testing.T) {
	f := newBotFixture(t)

	f.bot.route(context.Background(), incoming("u1", "c1", "CC hello"), 0)

	if f.primary.calls() != 1 {
		t.Fatalf("uppercase trigger should reach the primary provider, calls=%d", f.primary.calls())
	}
}

func TestRouteSecondaryTrigger(t *testing.T) {
	f := newBotFixture(t)

	f.bot.route(context.Background(), incoming("u1", "c1", "yy 问题"), 0)

	if f.secondary.calls() != 1 {
		t.Fatalf("expected secondary provider call, got %d", f.secondary.calls())
	}
	if s := f.bot.sessions.Peek("u1", "c1"); s == nil || s.Provider != llm.Secondary {
		t.Fatalf("session should be bound to the secondary provider, got %+v", s)
	}
	if len(f.platform.reactions) != 1 || f.platform.reactions[0].emoji != "🧠" {
		t.Fatalf("expected the secondary marker reaction, got %+v", f.platform.reactions)
	}
}

func TestRouteSessionContinuation(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc 第一条"), 0)
	f.bot.route(ctx, incoming("u1", "c1", "继续聊，不带前缀"), 0)

	if f.primary.calls() != 2 {
		t.Fatalf("follow-up inside the session should reuse the primary, calls=%d", f.primary.calls())
	}
	// The follow-up content reaches the provider unmodified.
	req := f.primary.requests[1]
	if got := req[len(req)-1].Content; got != "继续聊，不带前缀" {
		t.Fatalf("follow-up content mangled: %q", got)
	}
}

func TestRouteProviderSwitchStartsFreshSession(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc hi"), 0)
	first := f.bot.sessions.Peek("u1", "c1")

	time.Sleep(5 * time.Millisecond)
	f.bot.route(ctx, incoming("u1", "c1", "yy 换个模型"), 0)
	second := f.bot.sessions.Peek("u1", "c1")

	if second == nil || second.Provider != llm.Secondary {
		t.Fatalf("switch should rebind to the secondary provider, got %+v", second)
	}
	if !second.StartTime.After(first.StartTime) {
		t.Fatal("provider switch should start a fresh session")
	}
	if f.secondary.calls() != 1 {
		t.Fatalf("expected one secondary call, got %d", f.secondary.calls())
	}
}

func TestRouteIgnoresBots(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	msg := incoming("u2", "c1", "cc hi")
	msg.FromBot = true
	f.bot.route(ctx, msg, 0)

	own := incoming(f.platform.botID, "c1", "cc hi")
	f.bot.route(ctx, own, 0)

	if f.primary.calls() != 0 || len(f.platform.sentMessages()) != 0 {
		t.Fatal("bot-authored messages must be ignored")
	}
}

func TestRouteNoSessionNoTrigger(t *testing.T) {
	f := newBotFixture(t)

	f.bot.route(context.Background(), incoming("u1", "c1", "随便说点什么"), 0)

	if f.primary.calls() != 0 || len(f.platform.sentMessages()) != 0 {
		t.Fatal("untriggered message outside a session must be ignored")
	}
}

func TestRouteReplyToBotContinuesSession(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc hi"), 0)

	f.platform.fetched["prev-1"] = &channels.FetchedMessage{ID: "prev-1", AuthorID: f.platform.botID}
	msg := incoming("u1", "c1", "回复机器人")
	msg.ReplyTo = "prev-1"
	f.bot.route(ctx, msg, 0)

	if f.primary.calls() != 2 {
		t.Fatalf("reply to the bot inside a session should continue it, calls=%d", f.primary.calls())
	}
}

func TestRouteReplyToOtherKeepsSessionQuiet(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc hi"), 0)
	before := f.bot.sessions.Peek("u1", "c1").LastActivity

	f.platform.fetched["prev-2"] = &channels.FetchedMessage{ID: "prev-2", AuthorID: "someone-else"}
	msg := incoming("u1", "c1", "跟别人说的")
	msg.ReplyTo = "prev-2"
	time.Sleep(5 * time.Millisecond)
	f.bot.route(ctx, msg, 0)

	if f.primary.calls() != 1 {
		t.Fatalf("reply to another user must not produce a completion, calls=%d", f.primary.calls())
	}
	if after := f.bot.sessions.Peek("u1", "c1").LastActivity; !after.After(before) {
		t.Fatal("session activity should still be refreshed")
	}
}

func TestRouteReclassifiesPaddedTrigger(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc hi"), 0)

	f.platform.fetched["prev-3"] = &channels.FetchedMessage{ID: "prev-3", AuthorID: "someone-else"}
	msg := incoming("u1", "c1", "  cc 藏在空白后面")
	msg.ReplyTo = "prev-3"
	f.bot.route(ctx, msg, 0)

	if f.primary.calls() != 2 {
		t.Fatalf("padded trigger should be reclassified once, calls=%d", f.primary.calls())
	}
	req := f.primary.requests[1]
	if got := req[len(req)-1].Content; got != "藏在空白后面" {
		t.Fatalf("reclassified query wrong: %q", got)
	}
}

func TestRouteCompletionFailureRepliesGeneric(t *testing.T) {
	f := newBotFixture(t)
	f.primary.err = errors.New("boom")

	f.bot.route(context.Background(), incoming("u1", "c1", "cc hi"), 0)

	sent := f.platform.sentMessages()
	if len(sent) != 1 || sent[0].content != msgGenericFailure {
		t.Fatalf("expected the generic failure reply, got %+v", sent)
	}
	// The user entry is still persisted even though the completion failed.
	entries := f.bot.store.Read(context.Background(), "u1")
	if len(entries) != 1 || entries[0].Role != history.RoleUser {
		t.Fatalf("expected only the user entry, got %+v", entries)
	}
}

func TestRouteAffirmativeInterceptedByPendingConfirmation(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc hi"), 0)

	req, err := f.bot.confirms.Propose("u1", "c1", "test")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	defer req.Release()

	f.bot.route(ctx, incoming("u1", "c1", "确定"), 0)

	if f.primary.calls() != 1 {
		t.Fatalf("affirmative must never reach the completion path, calls=%d", f.primary.calls())
	}
}

func TestRouteHistoryAccumulates(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, incoming("u1", "c1", "cc 第一问"), 0)
	f.bot.route(ctx, incoming("u1", "c1", "第二问"), 0)

	entries := f.bot.store.Read(ctx, "u1")
	if len(entries) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(entries))
	}
	if entries[1].Provider != string(llm.Primary) {
		t.Fatalf("assistant entry should carry the provider tag, got %q", entries[1].Provider)
	}
	// The second request replays the first exchange.
	req := f.primary.requests[1]
	if len(req) != 4 {
		t.Fatalf("expected system + 2 history + query, got %d messages", len(req))
	}
	if req[1].Content != "第一问" || req[2].Content != "primary answer" {
		t.Fatalf("history not replayed in order: %+v", req)
	}
}

func TestRouteKnowledgeInjectedIntoSystemPrompt(t *testing.T) {
	f := newBotFixture(t)
	f.bot.kb = &knowledge.Base{Questions: []knowledge.Item{
		{Keywords: []string{"营业时间"}, Answer: "每天 9:00-18:00"},
	}}

	f.bot.route(context.Background(), incoming("u1", "c1", "cc 营业时间是什么"), 0)

	req := f.primary.requests[0]
	if req[0].Role != llm.RoleSystem || !strings.Contains(req[0].Content, "每天 9:00-18:00") {
		t.Fatalf("knowledge answer should be framed into the system prompt, got %+v", req[0])
	}
}

func TestMatchTrigger(t *testing.T) {
	f := newBotFixture(t)

	tests := []struct {
		content  string
		provider llm.ProviderID
		query    string
		ok       bool
	}{
		{"cc hello", llm.Primary, "hello", true},
		{"小c 你好", llm.Primary, "你好", true},
		{"CC hello", llm.Primary, "hello", true},
		{"yy 问题", llm.Secondary, "问题", true},
		{"小y test", llm.Secondary, "test", true},
		{"cc", llm.Primary, "", true},
		{"hello cc", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		provider, query, ok := f.bot.matchTrigger(tt.content)
		if ok != tt.ok || provider != tt.provider || query != tt.query {
			t.Errorf("matchTrigger(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.content, provider, query, ok, tt.provider, tt.query, tt.ok)
		}
	}
}
