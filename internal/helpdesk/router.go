package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/queue"
	"github.com/zulandar/switchboard/internal/session"
)

// recentWindow and recentLimit bound the questions offered by /return.
const (
	recentWindow = 24 * time.Hour
	recentLimit  = 3
)

// HistoryStore is the history access the router needs.
type HistoryStore interface {
	FindByToken(ctx context.Context, token string) (*models.DialogHistory, error)
	FindByThread(ctx context.Context, threadID string) (*models.DialogHistory, error)
	RateByAsker(ctx context.Context, token string, good bool) error
	RateBySupervisor(ctx context.Context, token, supervisor string, good bool) error
	SetReturnAllowed(ctx context.Context, token, supervisor string, allowed bool) error
	ReturnableForAsker(ctx context.Context, askerID string, since time.Time, limit int) ([]models.DialogHistory, error)
}

// SupervisorLister lists everyone allowed to answer in dialog threads.
type SupervisorLister interface {
	Supervisors(ctx context.Context) ([]string, error)
}

// Router turns inbound messages into help desk actions. Thread messages come
// from supervisors; direct messages are dispatched on the sender's mode.
type Router struct {
	sessions     *session.Table
	queue        *queue.Queue
	registry     *dialog.Registry
	history      HistoryStore
	supervisors  SupervisorLister
	scheduler    *Scheduler
	gw           gateway.Gateway
	policyPrefix string
	out          io.Writer
	now          func() time.Time
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Sessions     *session.Table
	Queue        *queue.Queue
	Registry     *dialog.Registry
	History      HistoryStore
	Supervisors  SupervisorLister // optional; enables /supervisors
	Scheduler    *Scheduler
	Gateway      gateway.Gateway
	PolicyPrefix string    // required substring of policy links; empty accepts any text
	Out          io.Writer // defaults to os.Stdout
	Now          func() time.Time
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	switch {
	case opts.Sessions == nil:
		return nil, fmt.Errorf("helpdesk: router: sessions is required")
	case opts.Queue == nil:
		return nil, fmt.Errorf("helpdesk: router: queue is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("helpdesk: router: registry is required")
	case opts.History == nil:
		return nil, fmt.Errorf("helpdesk: router: history is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("helpdesk: router: scheduler is required")
	case opts.Gateway == nil:
		return nil, fmt.Errorf("helpdesk: router: gateway is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		sessions:     opts.Sessions,
		queue:        opts.Queue,
		registry:     opts.Registry,
		history:      opts.History,
		supervisors:  opts.Supervisors,
		scheduler:    opts.Scheduler,
		gw:           opts.Gateway,
		policyPrefix: opts.PolicyPrefix,
		out:          out,
		now:          now,
	}, nil
}

// Handle routes a single inbound message. A panic in any handler is logged,
// the sender's mode is reset and they get an apology.
func (r *Router) Handle(ctx context.Context, msg gateway.InboundMessage) {
	if msg.UserID == "" {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("helpdesk: router: panic handling message from %s: %v\n%s", msg.UserID, p, debug.Stack())
			r.sessions.ResetMode(msg.UserID)
			r.reply(ctx, gateway.ToUser(msg.UserID), msgApology)
		}
	}()

	s, err := r.sessions.Resolve(ctx, msg.UserID)
	if err != nil {
		log.Printf("helpdesk: router: %v", err)
		if s.UserID == "" {
			r.reply(ctx, gateway.ToUser(msg.UserID), msgApology)
			return
		}
	}

	fmt.Fprintf(r.out, "helpdesk: router: recv [user=%s mode=%s thread=%s]\n", msg.UserID, s.Mode, msg.ThreadID)

	if msg.Edited {
		r.handleEdit(ctx, msg, s)
		return
	}
	if msg.InThread() {
		r.handleThread(ctx, msg, s)
		return
	}
	r.handleDirect(ctx, msg, s)
}

// handleEdit mirrors an edited message onto its relayed copy. Edits never
// run commands or start dialogs.
func (r *Router) handleEdit(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	var err error
	switch {
	case msg.InThread():
		if !s.Identity.Role.CanSupervise() {
			return
		}
		err = r.registry.EditInThread(ctx, msg.ThreadID, msg.Ref(), msg.Text)
	case s.Mode == session.ModeInDialog:
		err = r.registry.EditFromAsker(ctx, s.UserID, msg.Ref(), msg.Text)
	default:
		return
	}
	if err != nil && !errors.Is(err, dialog.ErrNoCopy) && !errors.Is(err, dialog.ErrDialogNotFound) {
		log.Printf("helpdesk: router: edit from %s: %v", s.UserID, err)
	}
}

// handleThread serves supervisors writing in dialog threads.
func (r *Router) handleThread(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	if !s.Identity.Role.CanSupervise() {
		return
	}
	here := gateway.ToThread(msg.ThreadID)
	cmd, args := splitCommand(msg.Text)

	d, ok := r.registry.ByThread(msg.ThreadID)
	if !ok {
		switch cmd {
		case "/rate":
			r.rateBySupervisor(ctx, msg, s, args)
			return
		case "/noreturn", "/allowreturn":
			r.setClosedReturn(ctx, msg, s, cmd == "/allowreturn")
			return
		}
		r.handleOrphanThread(ctx, msg.ThreadID)
		return
	}

	switch cmd {
	case "/release":
		if err := r.registry.Release(ctx, d.Token, s.UserID); err != nil {
			r.threadError(ctx, here, s, err)
		}
		return
	case "/end":
		if _, err := r.registry.CloseByHolder(ctx, msg.ThreadID, s.UserID); err != nil {
			r.threadError(ctx, here, s, err)
		}
		return
	case "/rate":
		r.reply(ctx, here, msgRateInThread)
		return
	case "/noreturn", "/allowreturn":
		allowed := cmd == "/allowreturn"
		if err := r.registry.SetReturnAllowed(msg.ThreadID, s.UserID, allowed); err != nil {
			r.threadError(ctx, here, s, err)
			return
		}
		r.reply(ctx, here, returnSetText(allowed))
		return
	}

	if !d.Claimed() {
		if err := r.registry.Claim(ctx, d.Token, s.UserID, s.Identity.Name); err != nil {
			r.threadError(ctx, here, s, err)
			return
		}
	} else if d.Holder != s.UserID {
		r.reply(ctx, here, msgNotYourChat)
		return
	}
	if err := r.registry.RelayFromHolder(ctx, msg.ThreadID, s.UserID, msg.Ref()); err != nil {
		r.threadError(ctx, here, s, err)
	}
}

// handleOrphanThread deals with a thread that has no active dialog: known
// threads are archived under their token, unknown ones are marked lost.
func (r *Router) handleOrphanThread(ctx context.Context, threadID string) {
	r.reply(ctx, gateway.ToThread(threadID), msgThreadNoDialog)
	if r.registry.PendingFollowUp(threadID) {
		return
	}
	rec, err := r.history.FindByThread(ctx, threadID)
	if err != nil {
		log.Printf("helpdesk: router: orphan thread %s: %v", threadID, err)
		return
	}
	if rec == nil {
		if err := r.gw.RenameThread(ctx, threadID, "", gateway.IconLost); err != nil {
			log.Printf("helpdesk: router: mark thread %s lost: %v", threadID, err)
		}
		return
	}
	if err := r.gw.CloseThread(ctx, threadID); err != nil {
		log.Printf("helpdesk: router: close orphan thread %s: %v", threadID, err)
	}
	if err := r.gw.RenameThread(ctx, threadID, rec.Token, gateway.IconClosed); err != nil {
		log.Printf("helpdesk: router: rename orphan thread %s: %v", threadID, err)
	}
}

func (r *Router) rateBySupervisor(ctx context.Context, msg gateway.InboundMessage, s session.Session, args []string) {
	here := gateway.ToThread(msg.ThreadID)
	good, ok := false, false
	if len(args) > 0 {
		good, ok = parseRating(args[0])
	}
	if !ok {
		r.reply(ctx, here, "Usage: /rate good|bad")
		return
	}
	rec, err := r.history.FindByThread(ctx, msg.ThreadID)
	if err != nil {
		r.fail(ctx, s, err)
		return
	}
	if rec == nil {
		r.reply(ctx, here, msgThreadNoDialog)
		return
	}
	err = r.history.RateBySupervisor(ctx, rec.Token, s.Identity.Name, good)
	switch {
	case errors.Is(err, history.ErrNotParticipant):
		r.reply(ctx, here, msgNotParticipant)
	case err != nil:
		r.fail(ctx, s, err)
	default:
		r.reply(ctx, here, msgRateThanks)
	}
}

// setClosedReturn forbids or allows returning a closed dialog on behalf of
// one of its supervisors.
func (r *Router) setClosedReturn(ctx context.Context, msg gateway.InboundMessage, s session.Session, allowed bool) {
	here := gateway.ToThread(msg.ThreadID)
	rec, err := r.history.FindByThread(ctx, msg.ThreadID)
	if err != nil {
		r.fail(ctx, s, err)
		return
	}
	if rec == nil {
		r.reply(ctx, here, msgThreadNoDialog)
		return
	}
	err = r.history.SetReturnAllowed(ctx, rec.Token, s.Identity.Name, allowed)
	switch {
	case errors.Is(err, history.ErrNotParticipant):
		r.reply(ctx, here, msgNotParticipant)
	case err != nil:
		r.fail(ctx, s, err)
	default:
		fmt.Fprintf(r.out, "helpdesk: router: %s set return allowed=%v for %s\n", s.Identity.Name, allowed, rec.Token)
		r.reply(ctx, here, returnSetText(allowed))
	}
}

// threadError maps registry errors to thread replies.
func (r *Router) threadError(ctx context.Context, here gateway.Target, s session.Session, err error) {
	switch {
	case errors.Is(err, dialog.ErrNotYourDialog), errors.Is(err, dialog.ErrAlreadyClaimed):
		r.reply(ctx, here, msgNotYourChat)
	case errors.Is(err, dialog.ErrDialogNotFound):
		r.reply(ctx, here, msgThreadNoDialog)
	default:
		log.Printf("helpdesk: router: thread %s: %v", here.ThreadID, err)
		r.reply(ctx, here, msgNotDelivered)
	}
}

// handleDirect dispatches a direct message on the sender's mode.
func (r *Router) handleDirect(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	switch s.Mode {
	case session.ModeUnregistered:
		r.reply(ctx, gateway.ToUser(s.UserID), msgNotRegistered)
	case session.ModeIdle:
		r.onIdle(ctx, msg, s)
	case session.ModeComposing:
		r.onComposing(ctx, msg, s)
	case session.ModeAwaitingLink:
		r.onAwaitingLink(ctx, msg, s)
	case session.ModeQueued:
		r.onQueued(ctx, msg, s)
	case session.ModeInDialog:
		r.onInDialog(ctx, msg, s)
	case session.ModeRating:
		r.onRating(ctx, msg, s)
	case session.ModeSupervisor:
		r.reply(ctx, gateway.ToUser(s.UserID), helpText(s))
	case session.ModeAdmin:
		r.onAdmin(ctx, msg, s)
	}
}

func (r *Router) onIdle(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	me := gateway.ToUser(s.UserID)
	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/ask":
		if r.busy(s.UserID) {
			r.reply(ctx, me, msgAlreadyWaiting)
			return
		}
		r.sessions.SetMode(s.UserID, session.ModeComposing)
		r.reply(ctx, me, msgAskQuestion)
	case "/return":
		r.returnQuestion(ctx, s, args)
	case "/end":
		r.reply(ctx, me, msgNoDialog)
	case "/admin":
		if s.DefaultMode == session.ModeAdmin {
			r.sessions.ResetMode(s.UserID)
			r.reply(ctx, me, helpText(session.Session{Mode: session.ModeAdmin}))
			return
		}
		r.reply(ctx, me, helpText(s))
	default:
		r.reply(ctx, me, helpText(s))
	}
}

func (r *Router) onComposing(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	me := gateway.ToUser(s.UserID)
	if cmd, _ := splitCommand(msg.Text); cmd == "/cancel" {
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, me, msgCancelled)
		return
	}
	if s.Identity.Role.SkipsPolicyLink() {
		r.enqueue(ctx, s, msg.Ref(), "")
		return
	}
	r.sessions.SetDraft(s.UserID, msg.Ref())
	r.reply(ctx, me, msgAskLink)
}

func (r *Router) onAwaitingLink(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	me := gateway.ToUser(s.UserID)
	text := strings.TrimSpace(msg.Text)
	if cmd, _ := splitCommand(text); cmd == "/cancel" {
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, me, msgCancelled)
		return
	}
	if text == "" || (r.policyPrefix != "" && !strings.Contains(text, r.policyPrefix)) {
		r.reply(ctx, me, linkRequiredText(r.policyPrefix))
		return
	}
	r.enqueue(ctx, s, s.Draft, text)
}

func (r *Router) enqueue(ctx context.Context, s session.Session, origin gateway.MessageRef, link string) {
	if r.busy(s.UserID) {
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, gateway.ToUser(s.UserID), msgAlreadyWaiting)
		return
	}
	pos := r.queue.Enqueue(queue.PendingQuestion{
		ChatID:     s.UserID,
		Name:       s.Identity.Name,
		Username:   s.Identity.Username,
		Manager:    s.Identity.Manager,
		Origin:     origin,
		PolicyLink: link,
	})
	r.sessions.SetMode(s.UserID, session.ModeQueued)
	r.reply(ctx, gateway.ToUser(s.UserID), queuedText(pos))
}

func (r *Router) onQueued(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	me := gateway.ToUser(s.UserID)
	cmd, _ := splitCommand(msg.Text)
	if cmd == "/cancel" {
		r.queue.Remove(s.UserID)
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, me, msgCancelled)
		return
	}
	pos := r.queue.Position(s.UserID)
	if pos == 0 {
		// Promoted or flushed between the mode read and now.
		if _, ok := r.registry.ByAsker(s.UserID); ok {
			r.sessions.SetMode(s.UserID, session.ModeInDialog)
			r.onInDialog(ctx, msg, s)
			return
		}
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, me, msgNoDialog)
		return
	}
	r.reply(ctx, me, queuedText(pos))
}

func (r *Router) onInDialog(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	if cmd, _ := splitCommand(msg.Text); cmd == "/end" {
		if _, err := r.registry.CloseByAsker(ctx, s.UserID); err != nil {
			r.directError(ctx, s, err)
		}
		return
	}
	if err := r.registry.RelayFromAsker(ctx, s.UserID, msg.Ref()); err != nil {
		r.directError(ctx, s, err)
	}
}

func (r *Router) onRating(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	me := gateway.ToUser(s.UserID)
	if cmd, _ := splitCommand(msg.Text); cmd == "/skip" {
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, me, helpText(session.Session{Mode: s.DefaultMode, Identity: s.Identity}))
		return
	}
	good, ok := parseRating(msg.Text)
	if !ok {
		r.reply(ctx, me, msgRateAgain)
		return
	}
	if err := r.history.RateByAsker(ctx, s.RatingToken, good); err != nil && !errors.Is(err, history.ErrNotFound) {
		r.fail(ctx, s, err)
		return
	}
	r.sessions.ResetMode(s.UserID)
	r.reply(ctx, me, msgRateThanks)
}

func (r *Router) onAdmin(ctx context.Context, msg gateway.InboundMessage, s session.Session) {
	me := gateway.ToUser(s.UserID)
	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/max":
		if len(args) == 0 {
			r.reply(ctx, me, fmt.Sprintf("Dialog limit: %d (0 = unlimited)", r.scheduler.Max()))
			return
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			r.reply(ctx, me, "Usage: /max N (N >= 0)")
			return
		}
		r.scheduler.SetMax(n)
		fmt.Fprintf(r.out, "helpdesk: router: %s set dialog limit to %d\n", s.Identity.Name, n)
		r.reply(ctx, me, fmt.Sprintf("Dialog limit set to %d.", n))
	case "/queue":
		r.reply(ctx, me, queueText(r.queue.Snapshot(), r.registry.Snapshot(), r.scheduler.Max(), r.now()))
	case "/history":
		if len(args) == 0 {
			r.reply(ctx, me, "Usage: /history TOKEN")
			return
		}
		rec, err := r.history.FindByToken(ctx, args[0])
		if err != nil {
			r.fail(ctx, s, err)
			return
		}
		if rec == nil {
			r.reply(ctx, me, fmt.Sprintf("No dialog with token %s.", args[0]))
			return
		}
		r.reply(ctx, me, RecordText(rec))
	case "/supervisors":
		if r.supervisors == nil {
			r.reply(ctx, me, helpText(s))
			return
		}
		names, err := r.supervisors.Supervisors(ctx)
		if err != nil {
			r.fail(ctx, s, err)
			return
		}
		r.reply(ctx, me, supervisorsText(names))
	case "/employee":
		r.sessions.SetMode(s.UserID, session.ModeIdle)
		r.reply(ctx, me, helpText(session.Session{Mode: session.ModeIdle, Identity: s.Identity}))
	default:
		r.reply(ctx, me, helpText(s))
	}
}

// returnQuestion lists the asker's recent dialogs, or reopens the N-th one.
func (r *Router) returnQuestion(ctx context.Context, s session.Session, args []string) {
	me := gateway.ToUser(s.UserID)
	recs, err := r.history.ReturnableForAsker(ctx, s.UserID, r.now().Add(-recentWindow), recentLimit)
	if err != nil {
		r.fail(ctx, s, err)
		return
	}
	if len(args) == 0 {
		r.reply(ctx, me, recentText(recs))
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(recs) {
		r.reply(ctx, me, recentText(recs))
		return
	}
	if r.busy(s.UserID) {
		r.reply(ctx, me, msgAlreadyWaiting)
		return
	}
	if _, err := r.registry.Reopen(ctx, recs[n-1], s.UserID); err != nil {
		if errors.Is(err, dialog.ErrAlreadyActive) {
			r.reply(ctx, me, msgAlreadyWaiting)
			return
		}
		r.fail(ctx, s, err)
		return
	}
	r.sessions.SetMode(s.UserID, session.ModeInDialog)
}

// directError maps registry errors for an asker's direct chat.
func (r *Router) directError(ctx context.Context, s session.Session, err error) {
	switch {
	case errors.Is(err, dialog.ErrDialogNotFound):
		r.sessions.ResetMode(s.UserID)
		r.reply(ctx, gateway.ToUser(s.UserID), msgNoDialog)
	default:
		log.Printf("helpdesk: router: %s: %v", s.UserID, err)
		r.reply(ctx, gateway.ToUser(s.UserID), msgNotDelivered)
	}
}

// fail handles an unexpected error: log, reset mode, apologize.
func (r *Router) fail(ctx context.Context, s session.Session, err error) {
	log.Printf("helpdesk: router: unexpected error for %s: %v", s.UserID, err)
	r.sessions.ResetMode(s.UserID)
	r.reply(ctx, gateway.ToUser(s.UserID), msgApology)
}

// busy reports whether the user already has a queued question or a dialog.
func (r *Router) busy(userID string) bool {
	if r.queue.Position(userID) > 0 {
		return true
	}
	_, ok := r.registry.ByAsker(userID)
	return ok
}

func (r *Router) reply(ctx context.Context, to gateway.Target, text string) {
	if _, err := r.gw.SendText(ctx, to, text); err != nil {
		log.Printf("helpdesk: router: reply to %+v: %v", to, err)
	}
}

// splitCommand returns the lower-cased leading /command and its arguments.
// Plain text yields an empty command. A trailing @botname is stripped.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}
