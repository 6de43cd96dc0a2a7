package helpdesk

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/queue"
	"github.com/zulandar/switchboard/internal/session"
)

// Replies sent by the help desk.
const (
	msgNotRegistered   = "You are not registered with the help desk. Please contact an administrator."
	msgApology         = "Something went wrong. Please start again."
	msgNotYourChat     = "This is not your chat."
	msgNoDialog        = "You have no active dialog."
	msgThreadNoDialog  = "There is no active dialog in this thread."
	msgAskQuestion     = "Send your question in one message. Send /cancel to stop."
	msgAskLink         = "Now send the link to the policy document your question is about."
	msgCancelled       = "Your question was cancelled."
	msgPassedForReview = "Your question was passed for review. A supervisor will answer soon."
	msgPromoteFailed   = "Could not open a dialog for your question. It stays first in the queue."
	msgNotDelivered    = "Your message was not delivered. Please try again."
	msgRateThanks      = "Thank you for your rating."
	msgRateAgain       = "Please reply \"good\" or \"bad\", or /skip."
	msgAlreadyWaiting  = "You already have a question in progress."
	msgIdleWarning     = "The dialog has been quiet for a while and will be closed soon if nobody writes."
	msgResetCancelled  = "The help desk day has ended. Your question was cancelled; please ask again tomorrow."
	msgRateInThread    = "Ratings can be given once the dialog is closed."
	msgNotParticipant  = "You did not take part in this dialog."
)

func returnSetText(allowed bool) string {
	if allowed {
		return "The asker may return this question."
	}
	return "The asker can no longer return this question."
}

func supervisorsText(names []string) string {
	if len(names) == 0 {
		return "No supervisors are registered."
	}
	return "Supervisors:\n" + strings.Join(names, "\n")
}

func linkRequiredText(prefix string) string {
	return fmt.Sprintf("The link must point to the policy space (%s). Send the link or /cancel.", prefix)
}

func queuedText(pos int) string {
	return fmt.Sprintf("Your question is number %d in the queue. Send /cancel to withdraw it.", pos)
}

func helpText(s session.Session) string {
	var b strings.Builder
	switch s.Mode {
	case session.ModeAdmin:
		b.WriteString("Administrator commands:\n")
		b.WriteString("/max [N] - show or set the number of simultaneous dialogs\n")
		b.WriteString("/queue - show the queue and active dialogs\n")
		b.WriteString("/history TOKEN - look up a closed dialog\n")
		b.WriteString("/supervisors - list everyone who can answer\n")
		b.WriteString("/employee - switch to employee mode")
	case session.ModeSupervisor:
		b.WriteString("Answer questions in the support threads.\n")
		b.WriteString("Writing in an unclaimed thread takes the dialog.\n")
		b.WriteString("/release - hand the dialog back\n")
		b.WriteString("/end - close the dialog\n")
		b.WriteString("/noreturn, /allowreturn - forbid or allow the asker to return the question\n")
		b.WriteString("/rate good|bad - rate a closed dialog you took part in")
	default:
		b.WriteString("/ask - ask a question\n")
		b.WriteString("/return - return one of your recent questions\n")
		b.WriteString("/end - close your dialog\n")
		b.WriteString("/cancel - withdraw a queued question")
		if s.Identity.Role == session.RoleManager || s.Identity.Role == session.RoleRoot {
			b.WriteString("\n/admin - back to administrator mode")
		}
	}
	return b.String()
}

func recentText(recs []models.DialogHistory) string {
	if len(recs) == 0 {
		return "You have no questions from the last day."
	}
	var b strings.Builder
	b.WriteString("Your recent questions:\n")
	for i, rec := range recs {
		sups := strings.Join(history.SplitList(rec.Supervisors), ", ")
		if sups == "" {
			sups = "-"
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, rec.QuestionAt.Format(history.TimeLayout), sups)
	}
	b.WriteString("Send /return N to return a question.")
	return b.String()
}

func queueText(pending []queue.PendingQuestion, dialogs []dialog.Dialog, max int, now time.Time) string {
	var b strings.Builder
	limit := "unlimited"
	if max > 0 {
		limit = fmt.Sprint(max)
	}
	fmt.Fprintf(&b, "Dialogs: %d (max %s), queued: %d\n", len(dialogs), limit, len(pending))
	for _, q := range pending {
		fmt.Fprintf(&b, "#%d %s, waiting %s\n", q.ID, q.Name, now.Sub(q.SubmittedAt).Truncate(time.Second))
	}
	for _, d := range dialogs {
		holder := d.HolderName()
		if holder == "" {
			holder = "unclaimed"
		}
		fmt.Fprintf(&b, "%s %s: %s, idle %s\n", d.Token, d.AskerName, holder, now.Sub(d.LastMessageAt).Truncate(time.Second))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RecordText renders a history record for humans.
func RecordText(rec *models.DialogHistory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Token: %s\n", rec.Token)
	fmt.Fprintf(&b, "Asker: %s\n", rec.AskerName)
	fmt.Fprintf(&b, "Asked: %s\n", rec.QuestionAt.Format(history.TimeLayout))
	names := history.SplitList(rec.Supervisors)
	starts := history.SplitList(rec.StartTimes)
	ends := history.SplitList(rec.EndTimes)
	for i, n := range names {
		var start, end string
		if i < len(starts) {
			start = starts[i]
		}
		if i < len(ends) {
			end = ends[i]
		}
		fmt.Fprintf(&b, "  %s: %s - %s\n", n, start, end)
	}
	if rec.PolicyLink != "" {
		fmt.Fprintf(&b, "Policy: %s\n", rec.PolicyLink)
	}
	fmt.Fprintf(&b, "Asker rating: %s\n", ratingText(rec.AskerRating))
	fmt.Fprintf(&b, "Supervisor rating: %s", ratingText(rec.SupervisorRating))
	return b.String()
}

func ratingText(r *bool) string {
	switch {
	case r == nil:
		return "-"
	case *r:
		return "good"
	default:
		return "bad"
	}
}

// parseRating accepts good/bad in a few spellings.
func parseRating(text string) (good bool, ok bool) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(text), "/")) {
	case "good", "+", "1", "yes":
		return true, true
	case "bad", "-", "0", "no":
		return false, true
	}
	return false, false
}
