package helpdesk

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/session"
)

func TestNewReset_BadCron(t *testing.T) {
	f := newDeskFixture(t)
	_, err := NewReset(ResetOpts{Queue: f.desk.Queue, Modes: f.desk.Sessions, Gateway: f.gw, Cron: "not a cron"})
	if err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestReset_DefaultScheduleInYekaterinburg(t *testing.T) {
	f := newDeskFixture(t)
	r, err := NewReset(ResetOpts{Queue: f.desk.Queue, Modes: f.desk.Sessions, Gateway: f.gw, Cron: config.DefaultResetCron})
	if err != nil {
		t.Fatalf("NewReset: %v", err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	next := r.Next(now).UTC()
	want := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC) // 03:30 at UTC+5
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

// Flushing three queued questions sends three cancellations and empties the queue.
func TestReset_FlushNotifiesEveryAsker(t *testing.T) {
	f := newDeskFixture(t)
	f.queueQuestion(t, "100", "Q1")
	f.queueQuestion(t, "200", "Q2")
	f.send(dm("R", "/employee"), dm("R", "/ask"), dm("R", "Q3"))
	if f.desk.Queue.Len() != 3 {
		t.Fatalf("queue len = %d, want 3", f.desk.Queue.Len())
	}

	n := f.desk.Reset.Flush(context.Background())
	if n != 3 {
		t.Errorf("Flush = %d, want 3", n)
	}
	if f.desk.Queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0", f.desk.Queue.Len())
	}
	for _, u := range []string{"100", "200", "R"} {
		if c := f.gw.CountContaining(gateway.ToUser(u), "question was cancelled"); c != 1 {
			t.Errorf("%s cancellations = %d, want 1", u, c)
		}
	}
	if f.mode(t, "100") != session.ModeIdle {
		t.Errorf("100 mode = %v, want idle", f.mode(t, "100"))
	}
	if f.mode(t, "R") != session.ModeAdmin {
		t.Errorf("R mode = %v, want admin (its default)", f.mode(t, "R"))
	}
}

func TestReset_FlushEmptyQueue(t *testing.T) {
	f := newDeskFixture(t)
	if n := f.desk.Reset.Flush(context.Background()); n != 0 {
		t.Errorf("Flush = %d, want 0", n)
	}
	if len(f.gw.AllSent()) != 0 {
		t.Error("no notifications expected for an empty queue")
	}
}
