package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/queue"
)

var (
	// ErrNotYourDialog is returned when a supervisor acts on a dialog held by someone else.
	ErrNotYourDialog = errors.New("dialog: not your dialog")
	// ErrAlreadyClaimed is returned by Claim when the dialog already has a holder.
	ErrAlreadyClaimed = errors.New("dialog: already claimed")
	// ErrDialogNotFound is returned when no active dialog matches the caller.
	ErrDialogNotFound = errors.New("dialog: not found")
	// ErrAlreadyActive is returned when the asker already has an active dialog.
	ErrAlreadyActive = errors.New("dialog: asker already has an active dialog")
	// ErrNotIdle is returned by CloseIdle when the dialog saw activity after the cutoff.
	ErrNotIdle = errors.New("dialog: not idle")
	// ErrNoCopy is returned when an edited message was never relayed.
	ErrNoCopy = errors.New("dialog: message has no relayed copy")
)

// Default timings.
const (
	DefaultRelayDelay = time.Second
	DefaultGrace      = 5 * time.Second
)

// HistoryWriter persists closed dialogs.
type HistoryWriter interface {
	Upsert(ctx context.Context, rec models.DialogHistory) (bool, error)
}

// AskerModes is the part of the session table the registry drives on close.
type AskerModes interface {
	ResetMode(userID string)
	AwaitRating(userID, token string)
}

// Registry holds every active dialog. A single mutex guards all of them and
// stays held across gateway calls, so no claim, relay or close can observe a
// half-updated dialog. Promote therefore serializes the whole registry behind
// thread creation; this is the throughput ceiling if question volume grows.
type Registry struct {
	gw         gateway.Gateway
	store      HistoryWriter
	modes      AskerModes
	relayDelay time.Duration
	grace      time.Duration
	now        func() time.Time

	mu        sync.Mutex
	dialogs   map[string]*Dialog // token -> dialog
	copies    map[string]map[gateway.MessageRef]gateway.MessageRef // token -> source -> relayed copy
	followUps map[string]*followUp
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Gateway    gateway.Gateway
	Store      HistoryWriter // optional; nil skips history writes
	Modes      AskerModes
	RelayDelay time.Duration // defaults to DefaultRelayDelay; negative disables
	Grace      time.Duration // defaults to DefaultGrace
	Now        func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("dialog: gateway is required")
	}
	if opts.Modes == nil {
		return nil, fmt.Errorf("dialog: modes is required")
	}
	relay := opts.RelayDelay
	if relay == 0 {
		relay = DefaultRelayDelay
	}
	if relay < 0 {
		relay = 0
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		gw:         opts.Gateway,
		store:      opts.Store,
		modes:      opts.Modes,
		relayDelay: relay,
		grace:      grace,
		now:        now,
		dialogs:    make(map[string]*Dialog),
		copies:     make(map[string]map[gateway.MessageRef]gateway.MessageRef),
		followUps:  make(map[string]*followUp),
	}, nil
}

// Promote opens a thread for q, posts the header and a copy of the question,
// and registers an unclaimed dialog. Only thread creation failure is fatal.
func (r *Registry) Promote(ctx context.Context, q queue.PendingQuestion) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byAskerLocked(q.ChatID) != nil {
		return Dialog{}, ErrAlreadyActive
	}

	thread, err := r.gw.CreateThread(ctx, q.Name)
	if err != nil {
		return Dialog{}, fmt.Errorf("dialog: promote %s: create thread: %w", q.ChatID, err)
	}
	if err := r.gw.RenameThread(ctx, thread, "", gateway.IconNew); err != nil {
		log.Printf("dialog: promote: set icon on %s: %v", thread, err)
	}
	if _, err := r.gw.SendText(ctx, gateway.ToThread(thread), headerText(q)); err != nil {
		log.Printf("dialog: promote: post header to %s: %v", thread, err)
	}
	var first gateway.MessageRef
	if !q.Origin.IsZero() {
		first, err = r.gw.CopyMessage(ctx, gateway.ToThread(thread), q.Origin)
		if err != nil {
			log.Printf("dialog: promote: copy question to %s: %v", thread, err)
		}
	}

	d := &Dialog{
		Token:         uuid.NewString(),
		AskerID:       q.ChatID,
		AskerName:     q.Name,
		Thread:        thread,
		QuestionAt:    q.SubmittedAt,
		FirstMessage:  first,
		LastMessageAt: r.now(),
		PolicyLink:    q.PolicyLink,
	}
	r.dialogs[d.Token] = d
	if !first.IsZero() {
		r.recordCopyLocked(d.Token, q.Origin, first)
	}
	return d.clone(), nil
}

// Claim hands an unclaimed dialog to a supervisor. It fails with
// ErrAlreadyClaimed if anyone, including the caller, already holds it.
func (r *Registry) Claim(ctx context.Context, token, supervisorID, supervisorName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dialogs[token]
	if !ok {
		return ErrDialogNotFound
	}
	if d.Holder != "" {
		return ErrAlreadyClaimed
	}
	now := r.now()
	d.Holder = supervisorID
	d.Legs = append(d.Legs, Leg{Supervisor: supervisorName, SupervisorID: supervisorID, Start: now})
	d.LastMessageAt = now
	d.Warned = false

	if err := r.gw.RenameThread(ctx, d.Thread, "", gateway.IconClaimed); err != nil {
		log.Printf("dialog: claim: set icon on %s: %v", d.Thread, err)
	}
	r.notify(ctx, gateway.ToThread(d.Thread), fmt.Sprintf("%s took the dialog.", supervisorName))
	r.notify(ctx, gateway.ToUser(d.AskerID), fmt.Sprintf("%s is answering your question.", supervisorName))
	return nil
}

// Release returns a dialog to the unclaimed pool. Only the holder may release.
func (r *Registry) Release(ctx context.Context, token, supervisorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dialogs[token]
	if !ok {
		return ErrDialogNotFound
	}
	if d.Holder == "" || d.Holder != supervisorID {
		return ErrNotYourDialog
	}
	name := d.HolderName()
	now := r.now()
	if i := d.openLeg(); i >= 0 {
		d.Legs[i].End = now
	}
	d.Holder = ""
	d.LastMessageAt = now
	d.Warned = false

	if err := r.gw.RenameThread(ctx, d.Thread, "", gateway.IconNew); err != nil {
		log.Printf("dialog: release: set icon on %s: %v", d.Thread, err)
	}
	r.notify(ctx, gateway.ToThread(d.Thread), fmt.Sprintf("%s released the dialog. It is waiting for a supervisor.", name))
	r.notify(ctx, gateway.ToUser(d.AskerID), "Your question was passed back to the queue and will be picked up by another supervisor.")
	return nil
}

// RelayFromAsker copies an asker's message into their dialog thread.
func (r *Registry) RelayFromAsker(ctx context.Context, askerID string, ref gateway.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byAskerLocked(askerID)
	if d == nil {
		return ErrDialogNotFound
	}
	return r.relayLocked(ctx, d, gateway.ToThread(d.Thread), ref)
}

// RelayFromHolder copies a holder's thread message to the asker.
func (r *Registry) RelayFromHolder(ctx context.Context, thread, supervisorID string, ref gateway.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byThreadLocked(thread)
	if d == nil {
		return ErrDialogNotFound
	}
	if d.Holder != supervisorID {
		return ErrNotYourDialog
	}
	return r.relayLocked(ctx, d, gateway.ToUser(d.AskerID), ref)
}

func (r *Registry) relayLocked(ctx context.Context, d *Dialog, to gateway.Target, ref gateway.MessageRef) error {
	if r.relayDelay > 0 {
		t := time.NewTimer(r.relayDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	dst, err := r.gw.CopyMessage(ctx, to, ref)
	if err != nil {
		return fmt.Errorf("dialog: relay %s: %w", d.Token, err)
	}
	r.recordCopyLocked(d.Token, ref, dst)
	d.LastMessageAt = r.now()
	d.Warned = false
	return nil
}

func (r *Registry) recordCopyLocked(token string, src, dst gateway.MessageRef) {
	m, ok := r.copies[token]
	if !ok {
		m = make(map[gateway.MessageRef]gateway.MessageRef)
		r.copies[token] = m
	}
	m[src] = dst
}

// EditFromAsker mirrors an asker's edit onto the copy in their dialog thread.
func (r *Registry) EditFromAsker(ctx context.Context, askerID string, src gateway.MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byAskerLocked(askerID)
	if d == nil {
		return ErrDialogNotFound
	}
	return r.editLocked(ctx, d, src, text)
}

// EditInThread mirrors a thread message edit onto the copy sent to the asker.
// Only messages that were relayed have a copy; the platform guarantees the
// editor is the original author.
func (r *Registry) EditInThread(ctx context.Context, thread string, src gateway.MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byThreadLocked(thread)
	if d == nil {
		return ErrDialogNotFound
	}
	return r.editLocked(ctx, d, src, text)
}

func (r *Registry) editLocked(ctx context.Context, d *Dialog, src gateway.MessageRef, text string) error {
	dst, ok := r.copies[d.Token][src]
	if !ok {
		return ErrNoCopy
	}
	if err := r.gw.EditMessage(ctx, dst, text); err != nil {
		return fmt.Errorf("dialog: edit %s: %w", d.Token, err)
	}
	return nil
}

// SetReturnAllowed lets the holder forbid or allow the asker to return the
// question after close.
func (r *Registry) SetReturnAllowed(thread, supervisorID string, allowed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byThreadLocked(thread)
	if d == nil {
		return ErrDialogNotFound
	}
	if d.Holder == "" || d.Holder != supervisorID {
		return ErrNotYourDialog
	}
	d.ReturnForbidden = !allowed
	return nil
}

// Close ends the dialog identified by token.
func (r *Registry) Close(ctx context.Context, token string, reason Reason) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dialogs[token]
	if !ok {
		return Dialog{}, ErrDialogNotFound
	}
	return r.closeLocked(ctx, d, reason), nil
}

// CloseIdle closes the dialog as expired unless it saw activity after cutoff.
// The check and the close happen under one lock, so a relay that lands after
// the caller read the dialog keeps it open.
func (r *Registry) CloseIdle(ctx context.Context, token string, cutoff time.Time) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dialogs[token]
	if !ok {
		return Dialog{}, ErrDialogNotFound
	}
	if !d.LastMessageAt.Before(cutoff) {
		return Dialog{}, ErrNotIdle
	}
	return r.closeLocked(ctx, d, ReasonExpired), nil
}

// CloseByAsker ends the asker's active dialog. The asker may close at any time.
func (r *Registry) CloseByAsker(ctx context.Context, askerID string) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byAskerLocked(askerID)
	if d == nil {
		return Dialog{}, ErrDialogNotFound
	}
	return r.closeLocked(ctx, d, ReasonAsker), nil
}

// CloseByHolder ends the dialog in thread on behalf of its current holder.
func (r *Registry) CloseByHolder(ctx context.Context, thread, supervisorID string) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.byThreadLocked(thread)
	if d == nil {
		return Dialog{}, ErrDialogNotFound
	}
	if d.Holder == "" || d.Holder != supervisorID {
		return Dialog{}, ErrNotYourDialog
	}
	return r.closeLocked(ctx, d, ReasonSupervisor), nil
}

// closeLocked ends the open leg, writes history for engaged dialogs, removes
// the dialog and schedules archival or deletion of its thread. Askers are not
// asked for a rating on shutdown since their session does not survive it.
func (r *Registry) closeLocked(ctx context.Context, d *Dialog, reason Reason) Dialog {
	now := r.now()
	if i := d.openLeg(); i >= 0 {
		d.Legs[i].End = now
	}
	d.Holder = ""
	delete(r.dialogs, d.Token)
	delete(r.copies, d.Token)
	closed := d.clone()

	if closed.Engaged() && r.store != nil {
		if _, err := r.store.Upsert(ctx, ToHistory(closed)); err != nil {
			log.Printf("dialog: close %s: write history: %v", closed.Token, err)
		}
	}

	text := closedText(reason)
	r.notify(ctx, gateway.ToThread(closed.Thread), text)
	r.notify(ctx, gateway.ToUser(closed.AskerID), text)

	if closed.Engaged() {
		if reason == ReasonShutdown {
			r.modes.ResetMode(closed.AskerID)
		} else {
			r.modes.AwaitRating(closed.AskerID, closed.Token)
			r.notify(ctx, gateway.ToUser(closed.AskerID), RatingPrompt)
		}
		r.scheduleLocked(closed.Thread, func(ctx context.Context) {
			if err := r.gw.CloseThread(ctx, closed.Thread); err != nil {
				log.Printf("dialog: archive %s: close thread: %v", closed.Thread, err)
			}
			if err := r.gw.RenameThread(ctx, closed.Thread, closed.Token, gateway.IconClosed); err != nil {
				log.Printf("dialog: archive %s: rename thread: %v", closed.Thread, err)
			}
		})
	} else {
		r.modes.ResetMode(closed.AskerID)
		r.scheduleLocked(closed.Thread, func(ctx context.Context) {
			if err := r.gw.DeleteThread(ctx, closed.Thread); err != nil {
				log.Printf("dialog: delete thread %s: %v", closed.Thread, err)
			}
		})
	}
	return closed
}

// Reopen brings a closed dialog back from its history record, in its old
// thread and with its previous legs. A pending archival of the thread is
// cancelled first.
func (r *Registry) Reopen(ctx context.Context, rec models.DialogHistory, askerID string) (Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dialogs[rec.Token]; ok {
		return Dialog{}, ErrAlreadyActive
	}
	if r.byAskerLocked(askerID) != nil {
		return Dialog{}, ErrAlreadyActive
	}
	r.cancelLocked(rec.ThreadID)

	now := r.now()
	d := &Dialog{
		Token:           rec.Token,
		AskerID:         askerID,
		AskerName:       rec.AskerName,
		Legs:            LegsFromHistory(rec, now.Location()),
		Thread:          rec.ThreadID,
		QuestionAt:      rec.QuestionAt,
		FirstMessage:    gateway.MessageRef{ChatID: rec.FirstMessageChat, MessageID: rec.FirstMessageID},
		LastMessageAt:   now,
		PolicyLink:      rec.PolicyLink,
		ReturnForbidden: rec.ReturnForbidden,
	}

	if err := r.gw.ReopenThread(ctx, d.Thread); err != nil {
		log.Printf("dialog: reopen: open thread %s: %v", d.Thread, err)
	}
	if err := r.gw.RenameThread(ctx, d.Thread, d.AskerName, gateway.IconNew); err != nil {
		log.Printf("dialog: reopen: rename thread %s: %v", d.Thread, err)
	}
	r.notify(ctx, gateway.ToThread(d.Thread), fmt.Sprintf("%s returned the question. It is waiting for a supervisor.", d.AskerName))
	r.notify(ctx, gateway.ToUser(askerID), "Your question was returned to the supervisors.")

	r.dialogs[d.Token] = d
	return d.clone(), nil
}

// MarkWarned flags an idle dialog as warned. idle is false when the dialog is
// gone or saw activity after cutoff; first is true when the flag was not set
// before.
func (r *Registry) MarkWarned(token string, cutoff time.Time) (first, idle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dialogs[token]
	if !ok || !d.LastMessageAt.Before(cutoff) {
		return false, false
	}
	first = !d.Warned
	d.Warned = true
	return first, true
}

// Count returns the number of active dialogs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dialogs)
}

// Get returns the dialog with token.
func (r *Registry) Get(token string) (Dialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dialogs[token]
	if !ok {
		return Dialog{}, false
	}
	return d.clone(), true
}

// ByAsker returns the asker's active dialog.
func (r *Registry) ByAsker(askerID string) (Dialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.byAskerLocked(askerID)
	if d == nil {
		return Dialog{}, false
	}
	return d.clone(), true
}

// ByThread returns the dialog bound to thread.
func (r *Registry) ByThread(thread string) (Dialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.byThreadLocked(thread)
	if d == nil {
		return Dialog{}, false
	}
	return d.clone(), true
}

// Snapshot returns copies of all active dialogs, oldest question first.
func (r *Registry) Snapshot() []Dialog {
	r.mu.Lock()
	out := make([]Dialog, 0, len(r.dialogs))
	for _, d := range r.dialogs {
		out = append(out, d.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestionAt.Equal(out[j].QuestionAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].QuestionAt.Before(out[j].QuestionAt)
	})
	return out
}

func (r *Registry) byAskerLocked(askerID string) *Dialog {
	for _, d := range r.dialogs {
		if d.AskerID == askerID {
			return d
		}
	}
	return nil
}

func (r *Registry) byThreadLocked(thread string) *Dialog {
	for _, d := range r.dialogs {
		if d.Thread == thread {
			return d
		}
	}
	return nil
}

// notify sends a best-effort text; failures are logged.
func (r *Registry) notify(ctx context.Context, to gateway.Target, text string) {
	if _, err := r.gw.SendText(ctx, to, text); err != nil {
		log.Printf("dialog: notify %+v: %v", to, err)
	}
}
