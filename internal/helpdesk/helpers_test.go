package helpdesk

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/identity"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/queue"
	"github.com/zulandar/switchboard/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPolicyPrefix = "wiki.example.com/"

var testUsers = []models.RegisteredUser{
	{UserID: "100", Name: "Ivan", Username: "ivan", Manager: "Olga", Role: models.RoleEmployee},
	{UserID: "200", Name: "Maria", Username: "maria", Manager: "Olga", Role: models.RoleEmployee},
	{UserID: "S", Name: "Sveta", Role: models.RoleSupervisor},
	{UserID: "T", Name: "Timur", Role: models.RoleSupervisor},
	{UserID: "M", Name: "Mikhail", Role: models.RoleManager},
	{UserID: "R", Name: "Root", Role: models.RoleRoot},
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	for _, u := range testUsers {
		if err := db.UpsertUser(gormDB, u); err != nil {
			t.Fatalf("seed user %s: %v", u.UserID, err)
		}
	}
	return gormDB
}

type deskFixture struct {
	gw   *gateway.MockGateway
	db   *gorm.DB
	desk *Desk
	out  *bytes.Buffer
}

// newDeskFixture wires a desk by hand so relay delay and grace can be
// disabled for tests.
func newDeskFixture(t *testing.T) *deskFixture {
	t.Helper()
	gormDB := openTestDB(t)
	gw := gateway.NewMockGateway()
	out := &bytes.Buffer{}

	dir, err := identity.NewDirectory(gormDB)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	sessions, err := session.NewTable(dir)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	store, err := history.NewStore(gormDB)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	q := queue.New()
	reg, err := dialog.NewRegistry(dialog.RegistryOpts{
		Gateway:    gw,
		Store:      store,
		Modes:      sessions,
		RelayDelay: -1,
		Grace:      time.Hour,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(reg.Shutdown)
	sched, err := NewScheduler(SchedulerOpts{Queue: q, Registry: reg, Modes: sessions, Gateway: gw})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	wd, err := NewWatchdog(WatchdogOpts{Registry: reg, Gateway: gw})
	if err != nil {
		t.Fatalf("watchdog: %v", err)
	}
	reset, err := NewReset(ResetOpts{Queue: q, Modes: sessions, Gateway: gw, Cron: "30 3 * * *", Out: out})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	router, err := NewRouter(RouterOpts{
		Sessions:     sessions,
		Queue:        q,
		Registry:     reg,
		History:      store,
		Supervisors:  dir,
		Scheduler:    sched,
		Gateway:      gw,
		PolicyPrefix: testPolicyPrefix,
		Out:          out,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return &deskFixture{
		gw:  gw,
		db:  gormDB,
		out: out,
		desk: &Desk{
			Sessions:  sessions,
			Queue:     q,
			Registry:  reg,
			History:   store,
			Scheduler: sched,
			Watchdog:  wd,
			Reset:     reset,
			Router:    router,
		},
	}
}

var msgSeq atomic.Int64

func dm(userID, text string) gateway.InboundMessage {
	return gateway.InboundMessage{
		Platform:  "mock",
		ChatID:    "dm-" + userID,
		UserID:    userID,
		MessageID: fmt.Sprintf("in-%d", msgSeq.Add(1)),
		Text:      text,
		Timestamp: time.Now(),
	}
}

func inThread(thread, userID, text string) gateway.InboundMessage {
	return gateway.InboundMessage{
		Platform:  "mock",
		ChatID:    thread,
		ThreadID:  thread,
		UserID:    userID,
		MessageID: fmt.Sprintf("in-%d", msgSeq.Add(1)),
		Text:      text,
		Timestamp: time.Now(),
	}
}

func (f *deskFixture) send(msgs ...gateway.InboundMessage) {
	for _, m := range msgs {
		f.desk.Router.Handle(context.Background(), m)
	}
}

// lastTextTo returns the last text sent to target, or "".
func (f *deskFixture) lastTextTo(to gateway.Target) string {
	texts := f.gw.TextsTo(to)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *deskFixture) mode(t *testing.T, userID string) session.Mode {
	t.Helper()
	s, ok := f.desk.Sessions.Get(userID)
	if !ok {
		t.Fatalf("no session for %s", userID)
	}
	return s.Mode
}

// queueQuestion walks userID through /ask, question and policy link.
func (f *deskFixture) queueQuestion(t *testing.T, userID, question string) {
	t.Helper()
	f.send(
		dm(userID, "/ask"),
		dm(userID, question),
		dm(userID, "https://"+testPolicyPrefix+"policy/"+userID),
	)
	if m := f.mode(t, userID); m != session.ModeQueued {
		t.Fatalf("%s mode = %v, want queued", userID, m)
	}
}

// openDialog queues a question for userID and promotes it.
func (f *deskFixture) openDialog(t *testing.T, userID string) dialog.Dialog {
	t.Helper()
	f.queueQuestion(t, userID, "question from "+userID)
	if !f.desk.Scheduler.Tick(context.Background()) {
		t.Fatalf("scheduler did not promote %s", userID)
	}
	d, ok := f.desk.Registry.ByAsker(userID)
	if !ok {
		t.Fatalf("no dialog for %s", userID)
	}
	return d
}

func containsAny(texts []string, substr string) bool {
	for _, s := range texts {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
