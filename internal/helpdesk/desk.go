package helpdesk

import (
	"fmt"
	"io"
	"os"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/identity"
	"github.com/zulandar/switchboard/internal/queue"
	"github.com/zulandar/switchboard/internal/session"
	"gorm.io/gorm"
)

// Desk is one fully wired help desk. Reset is nil when the daily reset is
// disabled.
type Desk struct {
	Sessions  *session.Table
	Queue     *queue.Queue
	Registry  *dialog.Registry
	History   *history.Store
	Scheduler *Scheduler
	Watchdog  *Watchdog
	Reset     *Reset
	Router    *Router
}

// DeskOpts holds parameters for creating a Desk.
type DeskOpts struct {
	Config  *config.Config
	DB      *gorm.DB
	Gateway gateway.Gateway
	Out     io.Writer // defaults to os.Stdout
}

// NewDesk builds every help desk component from cfg.
func NewDesk(opts DeskOpts) (*Desk, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("helpdesk: config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("helpdesk: db is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("helpdesk: gateway is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	cfg := opts.Config

	dir, err := identity.NewDirectory(opts.DB)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewTable(dir)
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(opts.DB)
	if err != nil {
		return nil, err
	}
	q := queue.New()
	reg, err := dialog.NewRegistry(dialog.RegistryOpts{
		Gateway:    opts.Gateway,
		Store:      store,
		Modes:      sessions,
		RelayDelay: cfg.Queue.RelayDelay(),
		Grace:      cfg.Queue.FollowUpGrace(),
	})
	if err != nil {
		return nil, err
	}
	sched, err := NewScheduler(SchedulerOpts{
		Queue:     q,
		Registry:  reg,
		Modes:     sessions,
		Gateway:   opts.Gateway,
		DialogMax: cfg.Queue.DialogMax,
		Tick:      cfg.Queue.SchedulerTick(),
	})
	if err != nil {
		return nil, err
	}
	wd, err := NewWatchdog(WatchdogOpts{
		Registry:       reg,
		Gateway:        opts.Gateway,
		Tick:           cfg.Watchdog.Tick(),
		WarnAfter:      cfg.Watchdog.WarnAfter(),
		CloseAfter:     cfg.Watchdog.CloseAfter(),
		RepeatWarnings: cfg.Watchdog.RepeatWarnings,
	})
	if err != nil {
		return nil, err
	}
	var reset *Reset
	if cfg.ResetEnabled() {
		reset, err = NewReset(ResetOpts{
			Queue:   q,
			Modes:   sessions,
			Gateway: opts.Gateway,
			Cron:    cfg.Reset.Cron,
			Out:     out,
		})
		if err != nil {
			return nil, err
		}
	}
	router, err := NewRouter(RouterOpts{
		Sessions:     sessions,
		Queue:        q,
		Registry:     reg,
		History:      store,
		Supervisors:  dir,
		Scheduler:    sched,
		Gateway:      opts.Gateway,
		PolicyPrefix: cfg.Policy.LinkPrefix,
		Out:          out,
	})
	if err != nil {
		return nil, err
	}
	return &Desk{
		Sessions:  sessions,
		Queue:     q,
		Registry:  reg,
		History:   store,
		Scheduler: sched,
		Watchdog:  wd,
		Reset:     reset,
		Router:    router,
	}, nil
}

// QueueSnapshot returns the queued questions in key order.
func (d *Desk) QueueSnapshot() []queue.PendingQuestion { return d.Queue.Snapshot() }

// Dialogs returns the active dialogs.
func (d *Desk) Dialogs() []dialog.Dialog { return d.Registry.Snapshot() }

// DialogMax returns the current dialog cap.
func (d *Desk) DialogMax() int { return d.Scheduler.Max() }
