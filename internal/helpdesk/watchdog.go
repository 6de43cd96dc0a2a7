package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/gateway"
)

// Watchdog closes dialogs that have gone quiet. Past WarnAfter both parties
// are warned; past CloseAfter the dialog is closed as expired, claimed or not.
type Watchdog struct {
	registry   *dialog.Registry
	gw         gateway.Gateway
	tick       time.Duration
	warnAfter  time.Duration
	closeAfter time.Duration
	repeat     bool
}

// WatchdogOpts holds parameters for creating a Watchdog.
type WatchdogOpts struct {
	Registry       *dialog.Registry
	Gateway        gateway.Gateway
	Tick           time.Duration // defaults to 30s
	WarnAfter      time.Duration // defaults to 2m
	CloseAfter     time.Duration // defaults to 3m
	RepeatWarnings bool          // warn on every tick instead of once per idle period
}

// NewWatchdog creates a Watchdog.
func NewWatchdog(opts WatchdogOpts) (*Watchdog, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("helpdesk: watchdog: registry is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("helpdesk: watchdog: gateway is required")
	}
	w := &Watchdog{
		registry:   opts.Registry,
		gw:         opts.Gateway,
		tick:       opts.Tick,
		warnAfter:  opts.WarnAfter,
		closeAfter: opts.CloseAfter,
		repeat:     opts.RepeatWarnings,
	}
	if w.tick <= 0 {
		w.tick = 30 * time.Second
	}
	if w.warnAfter <= 0 {
		w.warnAfter = 2 * time.Minute
	}
	if w.closeAfter <= 0 {
		w.closeAfter = 3 * time.Minute
	}
	if w.closeAfter <= w.warnAfter {
		return nil, fmt.Errorf("helpdesk: watchdog: close threshold must exceed warn threshold")
	}
	return w, nil
}

// Tick checks every active dialog against now and returns how many were
// warned and closed. Idleness is checked again under the registry lock before
// acting, since a relay may land while earlier dialogs are being handled.
func (w *Watchdog) Tick(ctx context.Context, now time.Time) (warned, closed int) {
	closeCutoff := now.Add(-w.closeAfter)
	warnCutoff := now.Add(-w.warnAfter)
	for _, d := range w.registry.Snapshot() {
		idle := now.Sub(d.LastMessageAt)
		switch {
		case idle > w.closeAfter:
			_, err := w.registry.CloseIdle(ctx, d.Token, closeCutoff)
			if errors.Is(err, dialog.ErrDialogNotFound) || errors.Is(err, dialog.ErrNotIdle) {
				continue
			}
			if err != nil {
				log.Printf("helpdesk: watchdog: close %s: %v", d.Token, err)
				continue
			}
			log.Printf("helpdesk: watchdog: closed %s after %s idle", d.Token, idle.Truncate(time.Second))
			closed++
		case idle > w.warnAfter:
			first, stillIdle := w.registry.MarkWarned(d.Token, warnCutoff)
			if !stillIdle || (!first && !w.repeat) {
				continue
			}
			w.send(ctx, gateway.ToThread(d.Thread))
			w.send(ctx, gateway.ToUser(d.AskerID))
			warned++
		}
	}
	return warned, closed
}

// Run ticks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Tick(ctx, now)
		}
	}
}

func (w *Watchdog) send(ctx context.Context, to gateway.Target) {
	if _, err := w.gw.SendText(ctx, to, msgIdleWarning); err != nil {
		log.Printf("helpdesk: watchdog: warn %+v: %v", to, err)
	}
}
