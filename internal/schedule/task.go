package schedule

import (
	"fmt"
	"strings"

	"github.com/pscheid92/unranked/internal/domain"
)

const DisplayTitle = "Scheduled Tasks"

// ScheduledTask is the persisted part of a one-shot deferred action.
type ScheduledTask struct {
	Objective domain.Objective     `json:"objective"`
	Target    domain.UnixTimestamp `json:"desired_execution_timestamp"`
}

func (t ScheduledTask) String() string {
	return fmt.Sprintf("%s at %s", t.Objective, t.Target)
}

// Tasks is the stored form of the schedule.
type Tasks struct {
	Data []ScheduledTask `json:"data"`
}

// CreateOutcome reports whether CreateTask inserted a new task or replaced one.
type CreateOutcome struct {
	Replaced bool
	Previous domain.UnixTimestamp
}

func (o CreateOutcome) String() string {
	if o.Replaced {
		return fmt.Sprintf("Replaced (previously %s)", o.Previous)
	}
	return "Created"
}

// Render lists tasks with the 1-based positions CancelTaskByID accepts.
func Render(tasks []ScheduledTask) string {
	if len(tasks) == 0 {
		return "No scheduled tasks"
	}
	var b strings.Builder
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return b.String()
}
