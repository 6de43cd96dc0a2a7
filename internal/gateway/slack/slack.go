// Package slack implements the help desk Gateway for Slack using Socket Mode.
// Askers talk to the bot in direct messages; each dialog is a thread under a
// parent message in the support channel. The parent's emoji prefix shows the
// dialog status and a lock reaction marks closed threads.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/switchboard/internal/gateway"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// lockReaction marks a closed thread.
	lockReaction = "lock"
)

var defaultEmoji = map[gateway.Icon]string{
	gateway.IconNew:     "new",
	gateway.IconClaimed: "eyes",
	gateway.IconClosed:  "lock",
	gateway.IconLost:    "grey_question",
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channel, messageTimestamp string) (string, string, error)
	AddReaction(name string, item slackapi.ItemRef) error
	RemoveReaction(name string, item slackapi.ItemRef) error
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetConversationHistory(params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
	GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements gateway.Gateway for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	channelID    string // support channel holding dialog threads
	emoji        map[gateway.Icon]string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan gateway.InboundMessage
	cancelFunc   context.CancelFunc
	dmChannels   map[string]string // user ID -> IM channel ID
	titles       map[string]string // thread ts -> title without emoji
	names        map[string]string // user ID -> display name
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken         string            // xapp-... Slack app-level token for Socket Mode
	BotToken         string            // xoxb-... Slack bot token
	SupportChannelID string            // channel holding dialog threads
	Emoji            map[string]string // icon name -> emoji name, overrides defaults
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	if opts.SupportChannelID == "" {
		return nil, fmt.Errorf("slack: support channel ID is required")
	}

	emoji := make(map[gateway.Icon]string, len(defaultEmoji))
	for k, v := range defaultEmoji {
		emoji[k] = v
	}
	for k, v := range opts.Emoji {
		emoji[gateway.Icon(k)] = strings.Trim(v, ":")
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		channelID:    opts.SupportChannelID,
		emoji:        emoji,
		inbound:      make(chan gateway.InboundMessage, 100),
		dmChannels:   make(map[string]string),
		titles:       make(map[string]string),
		names:        make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates the bot and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.InboundMessage, error) {
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// SendText posts text to a user's IM channel or into a dialog thread.
func (a *Adapter) SendText(ctx context.Context, to gateway.Target, text string) (gateway.MessageRef, error) {
	return a.post(ctx, to, slackapi.MsgOptionText(text, false))
}

// CopyMessage re-posts the text and file links of an existing message.
func (a *Adapter) CopyMessage(ctx context.Context, to gateway.Target, from gateway.MessageRef) (gateway.MessageRef, error) {
	if err := a.checkConnected(); err != nil {
		return gateway.MessageRef{}, err
	}
	src, err := a.fetch(ctx, from)
	if err != nil {
		return gateway.MessageRef{}, err
	}
	return a.post(ctx, to, slackapi.MsgOptionText(copyText(src), false))
}

// EditMessage rewrites the text of a message the bot posted.
func (a *Adapter) EditMessage(ctx context.Context, ref gateway.MessageRef, text string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := a.client.UpdateMessage(ref.ChatID, ref.MessageID, slackapi.MsgOptionText(text, false))
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: edit message: %w", err)
	}
	return nil
}

// CreateThread posts a parent message in the support channel. Its timestamp
// is the thread handle.
func (a *Adapter) CreateThread(ctx context.Context, name string) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		_, ts, apiErr = a.client.PostMessage(a.channelID, slackapi.MsgOptionText(a.title(name, gateway.IconNew), false))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: create thread: %w", err)
	}

	a.mu.Lock()
	a.titles[ts] = name
	a.mu.Unlock()
	return ts, nil
}

// CloseThread adds the lock reaction to the thread's parent message.
func (a *Adapter) CloseThread(ctx context.Context, threadID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		return a.client.AddReaction(lockReaction, slackapi.NewRefToMessage(a.channelID, threadID))
	})
	if err != nil && !isSlackError(err, "already_reacted") {
		return fmt.Errorf("slack: close thread: %w", err)
	}
	return nil
}

// ReopenThread removes the lock reaction.
func (a *Adapter) ReopenThread(ctx context.Context, threadID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		return a.client.RemoveReaction(lockReaction, slackapi.NewRefToMessage(a.channelID, threadID))
	})
	if err != nil && !isSlackError(err, "no_reaction") {
		return fmt.Errorf("slack: reopen thread: %w", err)
	}
	return nil
}

// RenameThread rewrites the parent message with the icon's emoji. An empty
// name keeps the last known title.
func (a *Adapter) RenameThread(ctx context.Context, threadID, name string, icon gateway.Icon) error {
	if err := a.checkConnected(); err != nil {
		return err
	}

	a.mu.Lock()
	if name == "" {
		name = a.titles[threadID]
	}
	a.mu.Unlock()

	err := retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := a.client.UpdateMessage(a.channelID, threadID, slackapi.MsgOptionText(a.title(name, icon), false))
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: rename thread: %w", err)
	}

	a.mu.Lock()
	a.titles[threadID] = name
	a.mu.Unlock()
	return nil
}

// DeleteThread deletes the parent message.
func (a *Adapter) DeleteThread(ctx context.Context, threadID string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, apiErr := a.client.DeleteMessage(a.channelID, threadID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete thread: %w", err)
	}
	a.mu.Lock()
	delete(a.titles, threadID)
	a.mu.Unlock()
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

func (a *Adapter) title(name string, icon gateway.Icon) string {
	if e := a.emoji[icon]; e != "" {
		return ":" + e + ": " + name
	}
	return name
}

func (a *Adapter) post(ctx context.Context, to gateway.Target, opts ...slackapi.MsgOption) (gateway.MessageRef, error) {
	if err := a.checkConnected(); err != nil {
		return gateway.MessageRef{}, err
	}

	channelID := a.channelID
	if to.IsThread() {
		opts = append(opts, slackapi.MsgOptionTS(to.ThreadID))
	} else {
		var err error
		if channelID, err = a.resolveIM(ctx, to.ChatID); err != nil {
			return gateway.MessageRef{}, err
		}
	}

	var ch, ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, ts, apiErr = a.client.PostMessage(channelID, opts...)
		return apiErr
	})
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("slack: post message: %w", err)
	}
	return gateway.MessageRef{ChatID: ch, MessageID: ts}, nil
}

// resolveIM returns the IM channel with userID, opening it on first use.
func (a *Adapter) resolveIM(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("slack: no target specified")
	}
	a.mu.Lock()
	id, ok := a.dmChannels[userID]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = a.client.OpenConversation(&slackapi.OpenConversationParameters{Users: []string{userID}})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open conversation with %s: %w", userID, err)
	}

	a.mu.Lock()
	a.dmChannels[userID] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

// fetch loads a single message. Thread replies are only visible through
// conversations.replies, so that is tried before the channel history.
func (a *Adapter) fetch(ctx context.Context, ref gateway.MessageRef) (slackapi.Message, error) {
	var replies []slackapi.Message
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		replies, _, _, apiErr = a.client.GetConversationReplies(&slackapi.GetConversationRepliesParameters{
			ChannelID: ref.ChatID,
			Timestamp: ref.MessageID,
			Latest:    ref.MessageID,
			Oldest:    ref.MessageID,
			Inclusive: true,
			Limit:     1,
		})
		return apiErr
	})
	if err == nil {
		if m, ok := findMessage(replies, ref.MessageID); ok {
			return m, nil
		}
	}

	var hist *slackapi.GetConversationHistoryResponse
	err = retryOnRateLimit(ctx, func() error {
		var apiErr error
		hist, apiErr = a.client.GetConversationHistory(&slackapi.GetConversationHistoryParameters{
			ChannelID: ref.ChatID,
			Latest:    ref.MessageID,
			Oldest:    ref.MessageID,
			Inclusive: true,
			Limit:     1,
		})
		return apiErr
	})
	if err != nil {
		return slackapi.Message{}, fmt.Errorf("slack: fetch message: %w", err)
	}
	if m, ok := findMessage(hist.Messages, ref.MessageID); ok {
		return m, nil
	}
	return slackapi.Message{}, fmt.Errorf("slack: fetch message: %s/%s not found", ref.ChatID, ref.MessageID)
}

func findMessage(msgs []slackapi.Message, ts string) (slackapi.Message, bool) {
	for _, m := range msgs {
		if m.Timestamp == ts {
			return m, true
		}
	}
	return slackapi.Message{}, false
}

// copyText reproduces a message's text with links to its files.
func copyText(m slackapi.Message) string {
	parts := []string{}
	if m.Text != "" {
		parts = append(parts, m.Text)
	}
	for _, f := range m.Files {
		parts = append(parts, f.Permalink)
	}
	return strings.Join(parts, "\n")
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, a.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", a.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.handleMessage(ev)
		}

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)

	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleMessage forwards direct messages and replies in support threads,
// including edits of either. Top-level posts in the support channel and other
// channels are ignored.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	user, text, ts, threadTS, botID := ev.User, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp, ev.BotID
	edited := false
	switch ev.SubType {
	case "", "file_share":
	case "message_changed":
		if ev.Message == nil {
			return
		}
		// Link unfurls also arrive as changes; only text edits matter.
		if ev.PreviousMessage != nil && ev.PreviousMessage.Text == ev.Message.Text {
			return
		}
		user, text, ts, threadTS, botID = ev.Message.User, ev.Message.Text, ev.Message.Timestamp, ev.Message.ThreadTimestamp, ev.Message.BotID
		edited = true
	default:
		// Deletes, joins and other bookkeeping.
		return
	}
	if user == "" || user == a.BotUserID() || botID != "" {
		return
	}

	msg := gateway.InboundMessage{
		Platform:  "slack",
		ChatID:    ev.Channel,
		UserID:    user,
		UserName:  a.resolveUserName(user),
		MessageID: ts,
		Text:      text,
		Timestamp: parseSlackTimestamp(ts),
		Edited:    edited,
	}
	if edited {
		msg.Timestamp = parseSlackTimestamp(ev.TimeStamp)
	}

	switch {
	case ev.ChannelType == "im":
		a.mu.Lock()
		a.dmChannels[user] = ev.Channel
		a.mu.Unlock()
	case ev.Channel == a.channelID && threadTS != "" && threadTS != ts:
		msg.ThreadID = threadTS
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
		log.Printf("slack: inbound buffer full, dropping message %s from %s", ts, user)
	}
}

// resolveUserName looks up a user's display name, caching the result.
// Falls back to the user ID.
func (a *Adapter) resolveUserName(userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}

	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// isSlackError reports whether err is a Slack API error with the given code.
func isSlackError(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if len(parts) == 2 {
		frac := (parts[1] + "000000000")[:9]
		nsec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, nsec)
}
