package slack

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/switchboard/internal/gateway"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	posted    []postedMessage
	postErr   error
	updated   []postedMessage
	deleted   []string
	reactions map[string][]string // ts -> reaction names
	reactErr  error
	opened    []string
	replies   []slackapi.Message
	history   []slackapi.Message
	users     map[string]*slackapi.User
	userCalls int
	tsCounter int
}

type postedMessage struct {
	channelID string
	ts        string
	values    url.Values
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp:  &slackapi.AuthTestResponse{UserID: "U_BOT"},
		reactions: make(map[string][]string),
		users:     make(map[string]*slackapi.User),
	}
}

// optionValues renders message options the way they are sent to the API.
func optionValues(channelID string, options []slackapi.MsgOption) url.Values {
	_, values, _ := slackapi.UnsafeApplyMsgOptions("token", channelID, "https://slack.test/api/", options...)
	return values
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.tsCounter++
	ts := fmt.Sprintf("1700000000.%06d", m.tsCounter)
	m.posted = append(m.posted, postedMessage{channelID: channelID, ts: ts, values: optionValues(channelID, options)})
	return channelID, ts, nil
}

func (m *mockSlackClient) UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, postedMessage{channelID: channelID, ts: timestamp, values: optionValues(channelID, options)})
	return channelID, timestamp, "", nil
}

func (m *mockSlackClient) DeleteMessage(channel, messageTimestamp string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageTimestamp)
	return channel, messageTimestamp, nil
}

func (m *mockSlackClient) AddReaction(name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactErr != nil {
		return m.reactErr
	}
	for _, r := range m.reactions[item.Timestamp] {
		if r == name {
			return fmt.Errorf("already_reacted")
		}
	}
	m.reactions[item.Timestamp] = append(m.reactions[item.Timestamp], name)
	return nil
}

func (m *mockSlackClient) RemoveReaction(name string, item slackapi.ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reactions[item.Timestamp]
	for i, r := range list {
		if r == name {
			m.reactions[item.Timestamp] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no_reaction")
}

func (m *mockSlackClient) OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, params.Users[0])
	ch := &slackapi.Channel{}
	ch.ID = "D_" + params.Users[0]
	return ch, false, false, nil
}

func (m *mockSlackClient) GetConversationHistory(params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &slackapi.GetConversationHistoryResponse{Messages: m.history}, nil
}

func (m *mockSlackClient) GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, false, "", fmt.Errorf("thread_not_found")
	}
	return m.replies, false, "", nil
}

func (m *mockSlackClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userCalls++
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

func (m *mockSlackClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
	acked  []socketmode.Request
	mu     sync.Mutex
	done   chan struct{}
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{
		events: make(chan socketmode.Event, 100),
		done:   make(chan struct{}),
	}
}

func (m *mockSocketClient) Run() error {
	<-m.done
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event { return m.events }

func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helpers ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()

	a, err := New(AdapterOpts{
		Client:           client,
		Socket:           socket,
		SupportChannelID: "C_SUPPORT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { close(socket.done) })
	return a, client, socket
}

func messageEvent(ev *slackevents.MessageEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Data: ev},
		},
		Request: &socketmode.Request{EnvelopeID: "env-" + ev.TimeStamp},
	}
}

func receive(t *testing.T, ch <-chan gateway.InboundMessage) gateway.InboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return gateway.InboundMessage{}
}

// --- New / Connect ---

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    AdapterOpts
		wantErr string
	}{
		{"no bot token", AdapterOpts{AppToken: "xapp", SupportChannelID: "C"}, "bot token"},
		{"no app token", AdapterOpts{BotToken: "xoxb", SupportChannelID: "C"}, "app token"},
		{"no channel", AdapterOpts{BotToken: "xoxb", AppToken: "xapp"}, "support channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConnect_SetsBotUserID(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if a.BotUserID() != "U_BOT" {
		t.Errorf("BotUserID = %q, want U_BOT", a.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid_auth")
	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocketClient(), SupportChannelID: "C"})
	if err := a.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "auth test") {
		t.Errorf("error = %v, want auth test failure", err)
	}
}

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient(), SupportChannelID: "C"})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Error("expected error when not connected")
	}
}

// --- Inbound ---

func TestListen_DirectMessage(t *testing.T) {
	a, client, socket := newTestAdapter(t)
	client.users["U_ALICE"] = &slackapi.User{ID: "U_ALICE", RealName: "Alice Real", Profile: slackapi.UserProfile{DisplayName: "alice"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := a.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	socket.events <- messageEvent(&slackevents.MessageEvent{
		User:        "U_ALICE",
		Channel:     "D_ALICE",
		ChannelType: "im",
		Text:        "hello",
		TimeStamp:   "1700000000.000100",
	})

	msg := receive(t, ch)
	if msg.Platform != "slack" || msg.ChatID != "D_ALICE" || msg.ThreadID != "" {
		t.Errorf("msg = %+v, want direct message", msg)
	}
	if msg.UserName != "alice" {
		t.Errorf("UserName = %q, want alice", msg.UserName)
	}
	if msg.MessageID != "1700000000.000100" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.Timestamp.Unix() != 1700000000 {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}

	// The IM channel is learned from inbound traffic.
	a.SendText(ctx, gateway.ToUser("U_ALICE"), "hi")
	if len(client.opened) != 0 {
		t.Errorf("opened = %v, want none", client.opened)
	}
	if got := client.lastPosted().channelID; got != "D_ALICE" {
		t.Errorf("posted to %q, want D_ALICE", got)
	}
}

func TestListen_SupportThreadReply(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := a.Listen(ctx)

	socket.events <- messageEvent(&slackevents.MessageEvent{
		User:            "U_SUP",
		Channel:         "C_SUPPORT",
		ChannelType:     "channel",
		Text:            "on it",
		TimeStamp:       "1700000001.000200",
		ThreadTimeStamp: "1700000000.000001",
	})

	msg := receive(t, ch)
	if msg.ThreadID != "1700000000.000001" {
		t.Errorf("ThreadID = %q", msg.ThreadID)
	}
	if msg.UserName != "U_SUP" {
		t.Errorf("UserName = %q, want fallback to ID", msg.UserName)
	}
}

func TestHandleMessage_Filtered(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := a.Listen(ctx)

	cases := []*slackevents.MessageEvent{
		{User: "U_BOT", Channel: "D1", ChannelType: "im", TimeStamp: "1.1"},
		{User: "U1", BotID: "B1", Channel: "D1", ChannelType: "im", TimeStamp: "1.2"},
		{User: "U1", SubType: "message_changed", Channel: "D1", ChannelType: "im", TimeStamp: "1.3"},
		{User: "U1", Channel: "C_SUPPORT", ChannelType: "channel", TimeStamp: "1.4"},
		{User: "U1", Channel: "C_OTHER", ChannelType: "channel", TimeStamp: "1.5", ThreadTimeStamp: "1.0"},
	}
	for _, ev := range cases {
		a.handleMessage(ev)
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected inbound message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleMessage_FileShareKept(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := a.Listen(ctx)

	a.handleMessage(&slackevents.MessageEvent{User: "U1", SubType: "file_share", Channel: "D1", ChannelType: "im", TimeStamp: "1.1"})
	receive(t, ch)
}

func TestHandleMessage_Edits(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := a.Listen(ctx)

	// Edit of a DM: the changed message is nested; the event ts is the edit time.
	a.handleMessage(&slackevents.MessageEvent{
		SubType:         "message_changed",
		Channel:         "D_ALICE",
		ChannelType:     "im",
		TimeStamp:       "1700000050.000001",
		Message:         &slackapi.Msg{User: "U_ALICE", Text: "fixed", Timestamp: "1700000000.000100"},
		PreviousMessage: &slackapi.Msg{User: "U_ALICE", Text: "fxed", Timestamp: "1700000000.000100"},
	})
	msg := receive(t, ch)
	if !msg.Edited || msg.Text != "fixed" || msg.MessageID != "1700000000.000100" || msg.UserID != "U_ALICE" {
		t.Errorf("msg = %+v, want edited DM 1700000000.000100", msg)
	}
	if msg.Timestamp.Unix() != 1700000050 {
		t.Errorf("Timestamp = %v, want edit time", msg.Timestamp)
	}

	// Edit of a support thread reply keeps its thread.
	a.handleMessage(&slackevents.MessageEvent{
		SubType:     "message_changed",
		Channel:     "C_SUPPORT",
		ChannelType: "channel",
		TimeStamp:   "1700000060.000001",
		Message:     &slackapi.Msg{User: "U_SUP", Text: "better answer", Timestamp: "1700000001.000200", ThreadTimestamp: "1700000000.000001"},
	})
	msg = receive(t, ch)
	if !msg.Edited || msg.ThreadID != "1700000000.000001" {
		t.Errorf("msg = %+v, want edited thread reply", msg)
	}
}

func TestHandleMessage_EditsFiltered(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := a.Listen(ctx)

	cases := []*slackevents.MessageEvent{
		// Unfurl: text unchanged.
		{SubType: "message_changed", Channel: "D1", ChannelType: "im", TimeStamp: "2.0",
			Message: &slackapi.Msg{User: "U1", Text: "see x", Timestamp: "1.0"}, PreviousMessage: &slackapi.Msg{User: "U1", Text: "see x", Timestamp: "1.0"}},
		// The bot rewriting a thread parent.
		{SubType: "message_changed", Channel: "C_SUPPORT", ChannelType: "channel", TimeStamp: "2.1",
			Message: &slackapi.Msg{User: "U_BOT", Text: ":eyes: Ivan", Timestamp: "1.1"}},
		{SubType: "message_deleted", Channel: "D1", ChannelType: "im", TimeStamp: "2.2"},
	}
	for _, ev := range cases {
		a.handleMessage(ev)
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected inbound message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEditMessage(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	ref := gateway.MessageRef{ChatID: "D_ALICE", MessageID: "1700000000.000007"}
	if err := a.EditMessage(context.Background(), ref, "new text"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if len(client.updated) != 1 {
		t.Fatalf("updated = %d, want 1", len(client.updated))
	}
	u := client.updated[0]
	if u.channelID != "D_ALICE" || u.ts != "1700000000.000007" || u.values.Get("text") != "new text" {
		t.Errorf("update = %+v", u)
	}
}

func TestResolveUserName_Cached(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.users["U1"] = &slackapi.User{ID: "U1", RealName: "Real One"}

	if got := a.resolveUserName("U1"); got != "Real One" {
		t.Errorf("name = %q, want Real One", got)
	}
	a.resolveUserName("U1")
	if client.userCalls != 1 {
		t.Errorf("userCalls = %d, want 1", client.userCalls)
	}
}

// --- Outbound ---

func TestSendText_OpensIMOnce(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	ctx := context.Background()

	ref, err := a.SendText(ctx, gateway.ToUser("U1"), "one")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.ChatID != "D_U1" || ref.MessageID == "" {
		t.Errorf("ref = %+v", ref)
	}
	a.SendText(ctx, gateway.ToUser("U1"), "two")
	if len(client.opened) != 1 {
		t.Errorf("opened = %d, want 1", len(client.opened))
	}
	if got := client.lastPosted().values.Get("text"); got != "two" {
		t.Errorf("text = %q, want two", got)
	}
}

func TestSendText_Thread(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	if _, err := a.SendText(context.Background(), gateway.ToThread("1700000000.000001"), "note"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	last := client.lastPosted()
	if last.channelID != "C_SUPPORT" {
		t.Errorf("channel = %q, want C_SUPPORT", last.channelID)
	}
	if got := last.values.Get("thread_ts"); got != "1700000000.000001" {
		t.Errorf("thread_ts = %q", got)
	}
}

func TestSendText_Errors(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	if _, err := a.SendText(context.Background(), gateway.Target{}, "x"); err == nil {
		t.Error("expected error for empty target")
	}
	client.postErr = fmt.Errorf("channel_not_found")
	if _, err := a.SendText(context.Background(), gateway.ToThread("1.1"), "x"); err == nil || !strings.Contains(err.Error(), "post message") {
		t.Errorf("error = %v, want post failure", err)
	}
}

func TestCopyMessage_FromDirectMessage(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	msg := slackapi.Message{}
	msg.Timestamp = "1700000000.000500"
	msg.Text = "my question"
	msg.Files = []slackapi.File{{Permalink: "https://files.slack.test/F1"}}
	client.history = []slackapi.Message{msg}

	_, err := a.CopyMessage(context.Background(), gateway.ToThread("1.1"), gateway.MessageRef{ChatID: "D1", MessageID: "1700000000.000500"})
	if err != nil {
		t.Fatalf("CopyMessage: %v", err)
	}
	want := "my question\nhttps://files.slack.test/F1"
	if got := client.lastPosted().values.Get("text"); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestCopyMessage_FromThreadReply(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	reply := slackapi.Message{}
	reply.Timestamp = "1700000002.000000"
	reply.Text = "answer"
	client.replies = []slackapi.Message{reply}

	if _, err := a.CopyMessage(context.Background(), gateway.ToUser("U1"), gateway.MessageRef{ChatID: "C_SUPPORT", MessageID: "1700000002.000000"}); err != nil {
		t.Fatalf("CopyMessage: %v", err)
	}
	if got := client.lastPosted().values.Get("text"); got != "answer" {
		t.Errorf("text = %q, want answer", got)
	}
}

func TestCopyMessage_NotFound(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	_, err := a.CopyMessage(context.Background(), gateway.ToUser("U1"), gateway.MessageRef{ChatID: "D1", MessageID: "9.9"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

// --- Threads ---

func TestThreadLifecycle(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	ctx := context.Background()

	ts, err := a.CreateThread(ctx, "Ivan")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if got := client.lastPosted().values.Get("text"); got != ":new: Ivan" {
		t.Errorf("parent text = %q, want :new: Ivan", got)
	}

	if err := a.RenameThread(ctx, ts, "", gateway.IconClaimed); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	if got := client.updated[0].values.Get("text"); got != ":eyes: Ivan" {
		t.Errorf("renamed text = %q, want :eyes: Ivan", got)
	}

	if err := a.CloseThread(ctx, ts); err != nil {
		t.Fatalf("CloseThread: %v", err)
	}
	if err := a.CloseThread(ctx, ts); err != nil {
		t.Fatalf("second CloseThread should tolerate already_reacted: %v", err)
	}
	if got := client.reactions[ts]; len(got) != 1 || got[0] != "lock" {
		t.Errorf("reactions = %v, want [lock]", got)
	}

	if err := a.ReopenThread(ctx, ts); err != nil {
		t.Fatalf("ReopenThread: %v", err)
	}
	if err := a.ReopenThread(ctx, ts); err != nil {
		t.Fatalf("second ReopenThread should tolerate no_reaction: %v", err)
	}

	if err := a.RenameThread(ctx, ts, "tok-1", gateway.IconClosed); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	if got := client.updated[1].values.Get("text"); got != ":lock: tok-1" {
		t.Errorf("renamed text = %q, want :lock: tok-1", got)
	}

	if err := a.DeleteThread(ctx, ts); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != ts {
		t.Errorf("deleted = %v", client.deleted)
	}
}

func TestCustomEmoji(t *testing.T) {
	client := newMockSlackClient()
	a, _ := New(AdapterOpts{
		Client:           client,
		Socket:           newMockSocketClient(),
		SupportChannelID: "C",
		Emoji:            map[string]string{"new": ":sos:"},
	})
	a.Connect(context.Background())

	a.CreateThread(context.Background(), "Ivan")
	if got := client.lastPosted().values.Get("text"); got != ":sos: Ivan" {
		t.Errorf("text = %q, want :sos: Ivan", got)
	}
}

func TestCloseThread_Error(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.reactErr = fmt.Errorf("message_not_found")
	if err := a.CloseThread(context.Background(), "1.1"); err == nil {
		t.Error("expected error")
	}
}

// --- Close / helpers ---

func TestClose_Idempotent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	a.Listen(context.Background())
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	a.handleMessage(&slackevents.MessageEvent{User: "U1", Channel: "D1", ChannelType: "im", TimeStamp: "1.1"})
}

func TestRetryOnRateLimit(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	err = retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("invalid_auth")
	})
	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d, want immediate failure", err, calls)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	tests := []struct {
		in       string
		wantSec  int64
		wantNsec int
	}{
		{"1700000000.000001", 1700000000, 1000},
		{"1700000000", 1700000000, 0},
	}
	for _, tt := range tests {
		got := parseSlackTimestamp(tt.in)
		if got.Unix() != tt.wantSec || got.Nanosecond() != tt.wantNsec {
			t.Errorf("parseSlackTimestamp(%q) = %v", tt.in, got)
		}
	}
	if !parseSlackTimestamp("bogus").IsZero() {
		t.Error("bogus timestamp should parse to zero time")
	}
}
