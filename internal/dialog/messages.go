package dialog

import (
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/queue"
)

// Reason says why a dialog was closed.
type Reason string

const (
	ReasonAsker      Reason = "asker"
	ReasonSupervisor Reason = "supervisor"
	ReasonExpired    Reason = "expired"
	ReasonShutdown   Reason = "shutdown"
)

// RatingPrompt is sent to the asker after an engaged dialog closes.
const RatingPrompt = "Please rate the answer: reply \"good\" or \"bad\"."

func headerText(q queue.PendingQuestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question from %s", q.Name)
	if q.Username != "" {
		fmt.Fprintf(&b, " (@%s)", q.Username)
	}
	b.WriteString("\n")
	if q.Manager != "" {
		fmt.Fprintf(&b, "Manager: %s\n", q.Manager)
	}
	if q.PolicyLink != "" {
		fmt.Fprintf(&b, "Policy: %s\n", q.PolicyLink)
	}
	fmt.Fprintf(&b, "Asked at %s", q.SubmittedAt.Format("02.01.2006 15:04:05"))
	return b.String()
}

func closedText(r Reason) string {
	switch r {
	case ReasonExpired:
		return "Dialog closed due to inactivity."
	case ReasonShutdown:
		return "Dialog closed: the help desk is shutting down."
	default:
		return "Dialog closed."
	}
}
