package helpdesk

import (
	"fmt"
	"time"
	_ "time/tzdata" // named zones in CRON_TZ must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field expressions with an optional CRON_TZ= prefix and
// descriptors such as @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// parseSchedule validates a cron expression.
func parseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("helpdesk: parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// nextCronDuration returns the time from now until sched next fires.
func nextCronDuration(sched cron.Schedule, now time.Time) time.Duration {
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
