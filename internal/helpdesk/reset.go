package helpdesk

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/queue"
)

// Reset empties the queue on a cron schedule so no question outlives the
// working day.
type Reset struct {
	queue    *queue.Queue
	modes    ModeSetter
	gw       gateway.Gateway
	schedule cron.Schedule
	out      io.Writer
}

// ResetOpts holds parameters for creating a Reset.
type ResetOpts struct {
	Queue   *queue.Queue
	Modes   ModeSetter
	Gateway gateway.Gateway
	Cron    string    // e.g. "CRON_TZ=Asia/Yekaterinburg 30 3 * * *"
	Out     io.Writer // defaults to os.Stdout
}

// NewReset creates a Reset. The cron expression is validated here.
func NewReset(opts ResetOpts) (*Reset, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("helpdesk: reset: queue is required")
	}
	if opts.Modes == nil {
		return nil, fmt.Errorf("helpdesk: reset: modes is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("helpdesk: reset: gateway is required")
	}
	sched, err := parseSchedule(opts.Cron)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Reset{
		queue:    opts.Queue,
		modes:    opts.Modes,
		gw:       opts.Gateway,
		schedule: sched,
		out:      out,
	}, nil
}

// Flush cancels every queued question and tells each asker. Notifications go
// out after the queue lock is released. It returns the number flushed.
func (r *Reset) Flush(ctx context.Context) int {
	displaced := r.queue.FlushAll()
	for _, q := range displaced {
		r.modes.ResetMode(q.ChatID)
		if _, err := r.gw.SendText(ctx, gateway.ToUser(q.ChatID), msgResetCancelled); err != nil {
			log.Printf("helpdesk: reset: notify %s: %v", q.ChatID, err)
		}
	}
	return len(displaced)
}

// Next returns the next time the reset fires after now.
func (r *Reset) Next(now time.Time) time.Time {
	return r.schedule.Next(now)
}

// Run sleeps until each scheduled time and flushes the queue, until ctx is
// cancelled.
func (r *Reset) Run(ctx context.Context) {
	timer := time.NewTimer(nextCronDuration(r.schedule, time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n := r.Flush(ctx)
			fmt.Fprintf(r.out, "helpdesk: daily reset flushed %d question(s)\n", n)
			timer.Reset(nextCronDuration(r.schedule, time.Now()))
		}
	}
}
