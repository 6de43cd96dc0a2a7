package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/queue"
)

// StatusSource exposes the live help desk state.
type StatusSource interface {
	QueueSnapshot() []queue.PendingQuestion
	Dialogs() []dialog.Dialog
	DialogMax() int
}

// HistoryLookup finds closed dialogs.
type HistoryLookup interface {
	FindByToken(ctx context.Context, token string) (*models.DialogHistory, error)
}

// Line is the JSON snapshot served at /api/line.
type Line struct {
	GeneratedAt time.Time      `json:"generated_at"`
	DialogMax   int            `json:"dialog_max"`
	Queue       []QueueRow     `json:"queue"`
	Dialogs     []DialogRow    `json:"dialogs"`
	Counts      map[string]int `json:"counts"`
}

// QueueRow is one queued question.
type QueueRow struct {
	Position    int       `json:"position"`
	Asker       string    `json:"asker"`
	AskerID     string    `json:"asker_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	WaitingSec  int       `json:"waiting_sec"`
}

// DialogRow is one active dialog.
type DialogRow struct {
	Token         string    `json:"token"`
	Asker         string    `json:"asker"`
	AskerID       string    `json:"asker_id"`
	Holder        string    `json:"holder,omitempty"`
	Supervisors   []string  `json:"supervisors"`
	Thread        string    `json:"thread"`
	QuestionAt    time.Time `json:"question_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	IdleSec       int       `json:"idle_sec"`
	Warned        bool      `json:"warned"`
}

// buildLine converts the live state into a Line as of now.
func buildLine(src StatusSource, now time.Time) Line {
	pending := src.QueueSnapshot()
	dialogs := src.Dialogs()

	line := Line{
		GeneratedAt: now,
		DialogMax:   src.DialogMax(),
		Queue:       make([]QueueRow, len(pending)),
		Dialogs:     make([]DialogRow, len(dialogs)),
		Counts:      map[string]int{"queued": len(pending), "claimed": 0, "unclaimed": 0},
	}
	for i, q := range pending {
		line.Queue[i] = QueueRow{
			Position:    q.ID,
			Asker:       q.Name,
			AskerID:     q.ChatID,
			SubmittedAt: q.SubmittedAt,
			WaitingSec:  int(now.Sub(q.SubmittedAt).Seconds()),
		}
	}
	for i, d := range dialogs {
		line.Dialogs[i] = dialogRow(d, now)
		if d.Claimed() {
			line.Counts["claimed"]++
		} else {
			line.Counts["unclaimed"]++
		}
	}
	return line
}

func dialogRow(d dialog.Dialog, now time.Time) DialogRow {
	return DialogRow{
		Token:         d.Token,
		Asker:         d.AskerName,
		AskerID:       d.AskerID,
		Holder:        d.HolderName(),
		Supervisors:   d.Supervisors(),
		Thread:        d.Thread,
		QuestionAt:    d.QuestionAt,
		LastMessageAt: d.LastMessageAt,
		IdleSec:       int(now.Sub(d.LastMessageAt).Seconds()),
		Warned:        d.Warned,
	}
}
