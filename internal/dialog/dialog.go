// Package dialog tracks active support dialogs between an asker and the
// supervisors who hold them, from promotion out of the queue to close.
package dialog

import (
	"time"

	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/models"
)

// Leg is one supervisor's hold on a dialog. End is zero while the leg is open.
type Leg struct {
	Supervisor   string
	SupervisorID string
	Start        time.Time
	End          time.Time
}

// Open reports whether the leg has not ended yet.
func (l Leg) Open() bool { return l.End.IsZero() }

// Dialog is an active conversation between an asker and, over its life, a
// sequence of supervisors. Holder is empty while the dialog is unclaimed.
type Dialog struct {
	Token         string
	AskerID       string
	AskerName     string
	Legs          []Leg
	Holder        string
	Thread        string
	QuestionAt    time.Time
	FirstMessage  gateway.MessageRef // copy of the question inside the thread
	LastMessageAt time.Time
	PolicyLink    string
	Warned        bool

	// ReturnForbidden stops the asker from returning the question after close.
	ReturnForbidden bool
}

// Engaged reports whether any supervisor ever claimed the dialog.
func (d Dialog) Engaged() bool { return len(d.Legs) > 0 }

// Claimed reports whether a supervisor currently holds the dialog.
func (d Dialog) Claimed() bool { return d.Holder != "" }

// HolderName returns the display name of the current holder, if any.
func (d Dialog) HolderName() string {
	if i := d.openLeg(); i >= 0 {
		return d.Legs[i].Supervisor
	}
	return ""
}

// Supervisors returns the names of everyone who held the dialog, in order.
func (d Dialog) Supervisors() []string {
	names := make([]string, len(d.Legs))
	for i, l := range d.Legs {
		names[i] = l.Supervisor
	}
	return names
}

func (d Dialog) openLeg() int {
	for i := len(d.Legs) - 1; i >= 0; i-- {
		if d.Legs[i].Open() {
			return i
		}
	}
	return -1
}

func (d Dialog) clone() Dialog {
	c := d
	c.Legs = append([]Leg(nil), d.Legs...)
	return c
}

// ToHistory converts a dialog into its durable record. Open legs are written
// with an empty end time. Separators inside supervisor names are replaced so
// the lists stay aligned.
func ToHistory(d Dialog) models.DialogHistory {
	names := make([]string, len(d.Legs))
	starts := make([]string, len(d.Legs))
	ends := make([]string, len(d.Legs))
	for i, l := range d.Legs {
		names[i] = history.ListItem(l.Supervisor)
		starts[i] = l.Start.Format(history.TimeLayout)
		if !l.End.IsZero() {
			ends[i] = l.End.Format(history.TimeLayout)
		}
	}
	return models.DialogHistory{
		Token:            d.Token,
		AskerID:          d.AskerID,
		AskerName:        d.AskerName,
		Supervisors:      history.JoinList(names),
		StartTimes:       history.JoinList(starts),
		EndTimes:         history.JoinList(ends),
		QuestionAt:       d.QuestionAt.Truncate(time.Second),
		FirstMessageChat: d.FirstMessage.ChatID,
		FirstMessageID:   d.FirstMessage.MessageID,
		ThreadID:         d.Thread,
		PolicyLink:       d.PolicyLink,
		ReturnForbidden:  d.ReturnForbidden,
	}
}

// LegsFromHistory rebuilds the legs stored in rec. Lists of unequal length
// are cut to the shortest; unparsable end times close the leg at its start.
func LegsFromHistory(rec models.DialogHistory, loc *time.Location) []Leg {
	names := history.SplitList(rec.Supervisors)
	starts := history.SplitList(rec.StartTimes)
	ends := history.SplitList(rec.EndTimes)
	n := len(names)
	if len(starts) < n {
		n = len(starts)
	}
	legs := make([]Leg, 0, n)
	for i := 0; i < n; i++ {
		start, err := time.ParseInLocation(history.TimeLayout, starts[i], loc)
		if err != nil {
			continue
		}
		end := start
		if i < len(ends) {
			if t, err := time.ParseInLocation(history.TimeLayout, ends[i], loc); err == nil {
				end = t
			}
		}
		legs = append(legs, Leg{Supervisor: names[i], Start: start, End: end})
	}
	return legs
}
