package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockThread is the recorded state of a thread created through MockGateway.
type MockThread struct {
	ID      string
	Name    string
	Icon    Icon
	Closed  bool
	Deleted bool
}

// SentMessage is one SendText or CopyMessage call recorded by MockGateway.
type SentMessage struct {
	To   Target
	Text string     // empty for copies
	From MessageRef // zero for plain text
	Ref  MessageRef
}

// EditedMessage is one EditMessage call recorded by MockGateway.
type EditedMessage struct {
	Ref  MessageRef
	Text string
}

// MockGateway implements Gateway for testing. It records sent messages and
// thread operations and allows simulating inbound messages and failures.
type MockGateway struct {
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan InboundMessage
	sent          []SentMessage
	edits         []EditedMessage
	onSend        func(to Target, text string)
	threads       map[string]*MockThread
	threadCounter int
	msgCounter    int
	failures      map[string]error // method name -> error
}

// NewMockGateway creates a connected MockGateway with a buffered inbound channel.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		connected: true,
		inbound:   make(chan InboundMessage, 100),
		threads:   make(map[string]*MockThread),
		failures:  make(map[string]error),
	}
}

// Connect marks the gateway as connected.
func (m *MockGateway) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock gateway: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel.
func (m *MockGateway) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock gateway: not connected")
	}
	return m.inbound, nil
}

// SendText records a text message. The OnSendText hook, if set, runs after
// the message is recorded and outside the mock's lock.
func (m *MockGateway) SendText(ctx context.Context, to Target, text string) (MessageRef, error) {
	m.mu.Lock()
	if err := m.failLocked("SendText"); err != nil {
		m.mu.Unlock()
		return MessageRef{}, err
	}
	ref := m.nextRefLocked(to)
	m.sent = append(m.sent, SentMessage{To: to, Text: text, Ref: ref})
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(to, text)
	}
	return ref, nil
}

// CopyMessage records a copied message.
func (m *MockGateway) CopyMessage(ctx context.Context, to Target, from MessageRef) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("CopyMessage"); err != nil {
		return MessageRef{}, err
	}
	ref := m.nextRefLocked(to)
	m.sent = append(m.sent, SentMessage{To: to, From: from, Ref: ref})
	return ref, nil
}

// EditMessage records an edit of ref.
func (m *MockGateway) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("EditMessage"); err != nil {
		return err
	}
	m.edits = append(m.edits, EditedMessage{Ref: ref, Text: text})
	return nil
}

// CreateThread records a new thread named name.
func (m *MockGateway) CreateThread(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("CreateThread"); err != nil {
		return "", err
	}
	m.threadCounter++
	id := fmt.Sprintf("thread-%d", m.threadCounter)
	m.threads[id] = &MockThread{ID: id, Name: name}
	return id, nil
}

// CloseThread marks a thread closed.
func (m *MockGateway) CloseThread(ctx context.Context, threadID string) error {
	return m.updateThread("CloseThread", threadID, func(t *MockThread) { t.Closed = true })
}

// ReopenThread marks a thread open.
func (m *MockGateway) ReopenThread(ctx context.Context, threadID string) error {
	return m.updateThread("ReopenThread", threadID, func(t *MockThread) { t.Closed = false })
}

// RenameThread records a new name and icon. An empty name keeps the current one.
func (m *MockGateway) RenameThread(ctx context.Context, threadID, name string, icon Icon) error {
	return m.updateThread("RenameThread", threadID, func(t *MockThread) {
		if name != "" {
			t.Name = name
		}
		t.Icon = icon
	})
}

// DeleteThread marks a thread deleted.
func (m *MockGateway) DeleteThread(ctx context.Context, threadID string) error {
	return m.updateThread("DeleteThread", threadID, func(t *MockThread) { t.Deleted = true })
}

// Close shuts down the mock gateway and closes the inbound channel.
func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

func (m *MockGateway) updateThread(method, threadID string, fn func(*MockThread)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(method); err != nil {
		return err
	}
	t, ok := m.threads[threadID]
	if !ok {
		// Threads created outside the mock (e.g. seeded history) are tracked lazily.
		t = &MockThread{ID: threadID}
		m.threads[threadID] = t
	}
	fn(t)
	return nil
}

func (m *MockGateway) failLocked(method string) error {
	if !m.connected {
		return fmt.Errorf("mock gateway: not connected")
	}
	return m.failures[method]
}

func (m *MockGateway) nextRefLocked(to Target) MessageRef {
	m.msgCounter++
	chat := to.ChatID
	if to.IsThread() {
		chat = to.ThreadID
	}
	return MessageRef{ChatID: chat, MessageID: fmt.Sprintf("msg-%d", m.msgCounter)}
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockGateway) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// FailOn makes every subsequent call to method return err. A nil err clears it.
func (m *MockGateway) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// OnSendText sets a hook called after every successful SendText. The hook
// may call back into the gateway.
func (m *MockGateway) OnSendText(fn func(to Target, text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = fn
}

// Edits returns a copy of all recorded edits.
func (m *MockGateway) Edits() []EditedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EditedMessage, len(m.edits))
	copy(out, m.edits)
	return out
}

// AllSent returns a copy of all recorded sends and copies.
func (m *MockGateway) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the recorded messages delivered to target.
func (m *MockGateway) SentTo(to Target) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, s := range m.sent {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

// TextsTo returns the text bodies sent to target, in order.
func (m *MockGateway) TextsTo(to Target) []string {
	var out []string
	for _, s := range m.SentTo(to) {
		if s.Text != "" {
			out = append(out, s.Text)
		}
	}
	return out
}

// CountContaining returns how many texts sent to target contain substr.
func (m *MockGateway) CountContaining(to Target, substr string) int {
	n := 0
	for _, text := range m.TextsTo(to) {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

// Thread returns a copy of the recorded thread state.
func (m *MockGateway) Thread(id string) (MockThread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return MockThread{}, false
	}
	return *t, true
}

// ThreadCount returns the number of threads created through CreateThread.
func (m *MockGateway) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threadCounter
}

// Reset clears recorded sends and edits, keeping thread state.
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.edits = nil
}
