// Package helpdesk wires the question queue, dialog registry and session
// table into a running help desk: background loops, inbound message routing
// and the daemon that owns them.
package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/queue"
	"github.com/zulandar/switchboard/internal/session"
)

// ModeSetter is the part of the session table the background loops use.
type ModeSetter interface {
	SetMode(userID string, mode session.Mode)
	ResetMode(userID string)
}

// Scheduler moves the oldest queued question into a dialog whenever the
// number of active dialogs is below the cap. One question per tick.
type Scheduler struct {
	queue    *queue.Queue
	registry *dialog.Registry
	modes    ModeSetter
	gw       gateway.Gateway
	tick     time.Duration
	max      atomic.Int64
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Queue     *queue.Queue
	Registry  *dialog.Registry
	Modes     ModeSetter
	Gateway   gateway.Gateway
	DialogMax int           // 0 = unlimited
	Tick      time.Duration // defaults to 1s
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("helpdesk: scheduler: queue is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("helpdesk: scheduler: registry is required")
	}
	if opts.Modes == nil {
		return nil, fmt.Errorf("helpdesk: scheduler: modes is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("helpdesk: scheduler: gateway is required")
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = time.Second
	}
	s := &Scheduler{
		queue:    opts.Queue,
		registry: opts.Registry,
		modes:    opts.Modes,
		gw:       opts.Gateway,
		tick:     tick,
	}
	s.SetMax(opts.DialogMax)
	return s, nil
}

// Max returns the current dialog cap; 0 means unlimited.
func (s *Scheduler) Max() int { return int(s.max.Load()) }

// SetMax changes the dialog cap at runtime. Negative values are treated as 0.
func (s *Scheduler) SetMax(n int) {
	if n < 0 {
		n = 0
	}
	s.max.Store(int64(n))
}

// Tick promotes at most one queued question and reports whether it did.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.queue.Len() == 0 {
		return false
	}
	if max := s.Max(); max > 0 && s.registry.Count() >= max {
		return false
	}
	q, ok := s.queue.PopOldest()
	if !ok {
		return false
	}

	s.modes.SetMode(q.ChatID, session.ModeInDialog)
	s.send(ctx, q.ChatID, msgPassedForReview)

	if _, err := s.registry.Promote(ctx, q); err != nil {
		if errors.Is(err, dialog.ErrAlreadyActive) {
			log.Printf("helpdesk: scheduler: drop question from %s: %v", q.ChatID, err)
			return false
		}
		log.Printf("helpdesk: scheduler: promote %s: %v", q.ChatID, err)
		s.queue.Requeue(q)
		s.modes.SetMode(q.ChatID, session.ModeQueued)
		s.send(ctx, q.ChatID, msgPromoteFailed)
		return false
	}
	return true
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) send(ctx context.Context, userID, text string) {
	if _, err := s.gw.SendText(ctx, gateway.ToUser(userID), text); err != nil {
		log.Printf("helpdesk: scheduler: notify %s: %v", userID, err)
	}
}
