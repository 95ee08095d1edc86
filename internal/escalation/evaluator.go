package escalation

import "github.com/fleetbill/billing-engine/internal/model"

// Level is one row of the escalation policy table.
type Level struct {
	Level    int
	Name     string
	MinDays  int
	Status   model.ServiceStatus // target client status, forward-only
	Template string              // notification template key
}

// The policy table, worst first. Evaluate walks it top-down and the
// first row whose MinDays is covered wins, so ranges never overlap.
var levels = []Level{
	{Level: 5, Name: "SUSPENSION", MinDays: 21, Status: model.ServiceStatusSuspended, Template: "suspended"},
	{Level: 4, Name: "FINAL", MinDays: 16, Status: model.ServiceStatusWarning, Template: "post_due_final"},
	{Level: 3, Name: "URGENT", MinDays: 11, Status: model.ServiceStatusWarning, Template: "post_due_urgent"},
	{Level: 2, Name: "WARNING", MinDays: 6, Status: model.ServiceStatusActive, Template: "post_due_warning"},
	{Level: 1, Name: "MILD", MinDays: 1, Status: model.ServiceStatusActive, Template: "post_due"},
}

// thresholdDays caps notification volume: a reminder fires only when
// the overdue age lands exactly on one of these, so run frequency never
// changes how many notifications a client gets.
var thresholdDays = map[int]struct{}{
	1: {}, 3: {}, 5: {}, 7: {}, 10: {}, 14: {}, 18: {}, 21: {}, 25: {}, 30: {},
}

// Evaluate maps an overdue age in days to a policy level. Pure; not
// yet due (< 1) yields nil.
func Evaluate(daysOverdue int) *Level {
	for i := range levels {
		if daysOverdue >= levels[i].MinDays {
			l := levels[i]
			return &l
		}
	}
	return nil
}

// IsThresholdDay reports whether notifications may fire at this
// overdue age. Independent of the level table: a level decides what to
// say and where the status moves, the threshold list decides when to
// speak at all.
func IsThresholdDay(daysOverdue int) bool {
	_, ok := thresholdDays[daysOverdue]
	return ok
}
