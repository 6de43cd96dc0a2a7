// Package discord implements the help desk Gateway for Discord. Direct
// messages reach askers; each dialog is a post in a forum channel whose
// status is shown through forum tags (or a name prefix when no tag is set).
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/gateway"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// archiveMinutes is the forum post auto-archive duration.
	archiveMinutes = 10080
)

// iconPrefix marks thread names when no forum tag is configured for an icon.
var iconPrefix = map[gateway.Icon]string{
	gateway.IconNew:     "🆕",
	gateway.IconClaimed: "👀",
	gateway.IconClosed:  "🔒",
	gateway.IconLost:    "❓",
}

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessage(channelID, messageID, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEdit(channelID, messageID, content, options...)
}
func (r *realSession) ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ForumThreadStartComplex(channelID, threadData, messageData, options...)
}
func (r *realSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEdit(channelID, data, options...)
}
func (r *realSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelDelete(channelID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// thread is the adapter's view of a forum post it manages.
type thread struct {
	name     string
	archived bool
}

// Adapter implements gateway.Gateway for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	forumID       string
	tags          map[gateway.Icon]string
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan gateway.InboundMessage
	removeHandler func()
	dmChannels    map[string]string // user ID -> DM channel ID
	threads       map[string]*thread
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken       string            // Discord bot token
	ForumChannelID string            // forum channel holding dialog posts
	Tags           map[string]string // icon name -> forum tag ID
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ForumChannelID == "" {
		return nil, fmt.Errorf("discord: forum channel ID is required")
	}

	tags := make(map[gateway.Icon]string, len(opts.Tags))
	for k, v := range opts.Tags {
		tags[gateway.Icon(k)] = v
	}

	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		forumID:     opts.ForumChannelID,
		tags:        tags,
		inbound:     make(chan gateway.InboundMessage, 100),
		dmChannels:  make(map[string]string),
		threads:     make(map[string]*thread),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen registers the message handlers and returns the inbound channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.InboundMessage, error) {
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	removeCreate := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	removeUpdate := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		a.handleUpdate(m)
	})
	a.mu.Lock()
	a.removeHandler = func() {
		removeCreate()
		removeUpdate()
	}
	a.mu.Unlock()

	return a.inbound, nil
}

// SendText posts text to a user's DM channel or to a forum post.
func (a *Adapter) SendText(ctx context.Context, to gateway.Target, text string) (gateway.MessageRef, error) {
	return a.send(ctx, to, &discordgo.MessageSend{Content: text})
}

// CopyMessage re-posts the content and attachment links of an existing message.
func (a *Adapter) CopyMessage(ctx context.Context, to gateway.Target, from gateway.MessageRef) (gateway.MessageRef, error) {
	if err := a.checkConnected(); err != nil {
		return gateway.MessageRef{}, err
	}

	var src *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		src, apiErr = a.sess.ChannelMessage(from.ChatID, from.MessageID)
		return apiErr
	})
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("discord: fetch message: %w", err)
	}
	return a.send(ctx, to, copyOf(src))
}

// EditMessage replaces the content of a message the bot sent.
func (a *Adapter) EditMessage(ctx context.Context, ref gateway.MessageRef, text string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEdit(ref.ChatID, ref.MessageID, text)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// CreateThread opens a forum post titled name. The post body is the name itself.
func (a *Adapter) CreateThread(ctx context.Context, name string) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	start := &discordgo.ThreadStart{
		Name:                a.title(name, ""),
		AutoArchiveDuration: archiveMinutes,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.ForumThreadStartComplex(a.forumID, start, &discordgo.MessageSend{Content: name})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create thread: %w", err)
	}

	a.mu.Lock()
	a.threads[ch.ID] = &thread{name: name}
	a.mu.Unlock()
	return ch.ID, nil
}

// CloseThread archives and locks a forum post.
func (a *Adapter) CloseThread(ctx context.Context, threadID string) error {
	if err := a.edit(ctx, threadID, &discordgo.ChannelEdit{Archived: boolPtr(true), Locked: boolPtr(true)}); err != nil {
		return fmt.Errorf("discord: close thread: %w", err)
	}
	a.trackThread(threadID).archived = true
	return nil
}

// ReopenThread unarchives and unlocks a forum post.
func (a *Adapter) ReopenThread(ctx context.Context, threadID string) error {
	if err := a.edit(ctx, threadID, &discordgo.ChannelEdit{Archived: boolPtr(false), Locked: boolPtr(false)}); err != nil {
		return fmt.Errorf("discord: reopen thread: %w", err)
	}
	a.trackThread(threadID).archived = false
	return nil
}

// RenameThread retitles a forum post and applies the tag for icon. An
// archived post is unarchived for the edit and archived again afterwards.
func (a *Adapter) RenameThread(ctx context.Context, threadID, name string, icon gateway.Icon) error {
	a.mu.Lock()
	t := a.trackThreadLocked(threadID)
	if name == "" {
		name = t.name
	}
	archived := t.archived
	a.mu.Unlock()

	data := &discordgo.ChannelEdit{}
	if name != "" {
		data.Name = a.title(name, icon)
	}
	if tag, ok := a.tags[icon]; ok {
		data.AppliedTags = &[]string{tag}
	}

	if archived {
		if err := a.edit(ctx, threadID, &discordgo.ChannelEdit{Archived: boolPtr(false)}); err != nil {
			return fmt.Errorf("discord: rename thread: %w", err)
		}
		data.Archived = boolPtr(true)
		data.Locked = boolPtr(true)
	}
	if err := a.edit(ctx, threadID, data); err != nil {
		return fmt.Errorf("discord: rename thread: %w", err)
	}

	if name != "" {
		a.mu.Lock()
		a.trackThreadLocked(threadID).name = name
		a.mu.Unlock()
	}
	return nil
}

// DeleteThread removes a forum post.
func (a *Adapter) DeleteThread(ctx context.Context, threadID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelDelete(threadID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: delete thread: %w", err)
	}
	a.mu.Lock()
	delete(a.threads, threadID)
	a.mu.Unlock()
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, to gateway.Target, data *discordgo.MessageSend) (gateway.MessageRef, error) {
	if err := a.checkConnected(); err != nil {
		return gateway.MessageRef{}, err
	}

	channelID, err := a.resolve(ctx, to)
	if err != nil {
		return gateway.MessageRef{}, err
	}

	var msg *discordgo.Message
	err = a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = a.sess.ChannelMessageSendComplex(channelID, data)
		return apiErr
	})
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("discord: send message: %w", err)
	}
	return gateway.MessageRef{ChatID: channelID, MessageID: msg.ID}, nil
}

// resolve maps a target to a Discord channel ID. In Discord, threads are
// channels; users are reached through a cached DM channel.
func (a *Adapter) resolve(ctx context.Context, to gateway.Target) (string, error) {
	if to.IsThread() {
		return to.ThreadID, nil
	}
	if to.ChatID == "" {
		return "", fmt.Errorf("discord: no target specified")
	}

	a.mu.Lock()
	id, ok := a.dmChannels[to.ChatID]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(to.ChatID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open DM with %s: %w", to.ChatID, err)
	}

	a.mu.Lock()
	a.dmChannels[to.ChatID] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

func (a *Adapter) edit(ctx context.Context, threadID string, data *discordgo.ChannelEdit) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	return a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelEdit(threadID, data)
		return apiErr
	})
}

// title builds a post name. The icon prefix is used only when no forum tag
// carries the icon.
func (a *Adapter) title(name string, icon gateway.Icon) string {
	if icon == "" {
		icon = gateway.IconNew
	}
	if _, ok := a.tags[icon]; ok {
		return name
	}
	return iconPrefix[icon] + " " + name
}

func (a *Adapter) trackThread(threadID string) *thread {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trackThreadLocked(threadID)
}

func (a *Adapter) trackThreadLocked(threadID string) *thread {
	t, ok := a.threads[threadID]
	if !ok {
		t = &thread{}
		a.threads[threadID] = t
	}
	return t
}

// isDialogThread reports whether channelID is a post in the support forum.
func (a *Adapter) isDialogThread(channelID string) bool {
	a.mu.Lock()
	_, known := a.threads[channelID]
	a.mu.Unlock()
	if known {
		return true
	}
	ch, err := a.sess.Channel(channelID)
	return err == nil && ch.IsThread() && ch.ParentID == a.forumID
}

// handleMessage forwards a new message.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Message == nil {
		return
	}
	a.forward(m.Message, false)
}

// handleUpdate forwards a content edit. Updates that leave the content
// unchanged (embeds resolving, pins) are dropped.
func (a *Adapter) handleUpdate(m *discordgo.MessageUpdate) {
	if m.Message == nil {
		return
	}
	if m.BeforeUpdate != nil && m.BeforeUpdate.Content == m.Content {
		return
	}
	a.forward(m.Message, true)
}

// forward converts a Discord message to an InboundMessage. Only direct
// messages and posts in the support forum are forwarded.
func (a *Adapter) forward(m *discordgo.Message, edited bool) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	msg := gateway.InboundMessage{
		Platform:  "discord",
		ChatID:    m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		MessageID: m.ID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
		Edited:    edited,
	}
	if edited && m.EditedTimestamp != nil {
		msg.Timestamp = *m.EditedTimestamp
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp, _ = discordgo.SnowflakeTimestamp(m.ID)
	}

	switch {
	case m.GuildID == "":
		a.mu.Lock()
		a.dmChannels[m.Author.ID] = m.ChannelID
		a.mu.Unlock()
	case a.isDialogThread(m.ChannelID):
		msg.ThreadID = m.ChannelID
	default:
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Printf("discord: inbound buffer full, dropping message %s from %s", m.ID, m.Author.ID)
	}
}

// copyOf builds a message that reproduces src. Attachments are linked.
func copyOf(src *discordgo.Message) *discordgo.MessageSend {
	parts := []string{}
	if src.Content != "" {
		parts = append(parts, src.Content)
	}
	for _, att := range src.Attachments {
		parts = append(parts, att.URL)
	}
	return &discordgo.MessageSend{Content: strings.Join(parts, "\n")}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

func boolPtr(b bool) *bool { return &b }
