package helpdesk

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/gateway"
)

// shutdownTimeout bounds the gateway calls made while closing dialogs on exit.
const shutdownTimeout = 30 * time.Second

// Daemon is the main help desk process. It connects the gateway, starts the
// scheduler, watchdog and daily reset loops, and pumps inbound messages to
// the router one at a time until the context is cancelled.
type Daemon struct {
	desk *Desk
	gw   gateway.Gateway
	out  io.Writer
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Desk    *Desk
	Gateway gateway.Gateway
	Out     io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Desk == nil {
		return nil, fmt.Errorf("helpdesk: desk is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("helpdesk: gateway is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{desk: opts.Desk, gw: opts.Gateway, out: out}, nil
}

// Run blocks until ctx is cancelled or the gateway closes its inbound
// channel. On the way out every active dialog is closed, pending thread
// follow-ups are run and the gateway is closed.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Switchboard connecting...\n")
	if err := d.gw.Connect(ctx); err != nil {
		return fmt.Errorf("helpdesk: connect: %w", err)
	}
	inbound, err := d.gw.Listen(ctx)
	if err != nil {
		d.gw.Close()
		return fmt.Errorf("helpdesk: listen: %w", err)
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	var wg sync.WaitGroup
	start := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(loopCtx)
		}()
	}
	start(d.desk.Scheduler.Run)
	start(d.desk.Watchdog.Run)
	if d.desk.Reset != nil {
		start(d.desk.Reset.Run)
		fmt.Fprintf(d.out, "Daily reset scheduled; next at %s\n", d.desk.Reset.Next(d.desk.Router.now()).Format("02.01.2006 15:04:05 MST"))
	}

	fmt.Fprintf(d.out, "Switchboard online\n")

	defer func() {
		stopLoops()
		wg.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if n := d.closeDialogs(shutdownCtx); n > 0 {
			fmt.Fprintf(d.out, "Closed %d active dialog(s)\n", n)
		}
		if n := d.desk.Registry.RunFollowUps(shutdownCtx); n > 0 {
			fmt.Fprintf(d.out, "Ran %d pending thread follow-up(s)\n", n)
		}
		if err := d.gw.Close(); err != nil {
			log.Printf("helpdesk: close gateway: %v", err)
		}
		fmt.Fprintf(d.out, "Switchboard stopped\n")
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Switchboard shutting down...\n")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Switchboard inbound channel closed\n")
				return nil
			}
			d.desk.Router.Handle(ctx, msg)
		}
	}
}

// closeDialogs ends every active dialog so history is written and both
// parties hear about it before the process exits.
func (d *Daemon) closeDialogs(ctx context.Context) int {
	n := 0
	for _, dl := range d.desk.Registry.Snapshot() {
		if _, err := d.desk.Registry.Close(ctx, dl.Token, dialog.ReasonShutdown); err != nil {
			log.Printf("helpdesk: shutdown: close %s: %v", dl.Token, err)
			continue
		}
		n++
	}
	return n
}
