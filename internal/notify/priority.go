// ABOUTME: Data-driven priority derivation for notification event types
// ABOUTME: Unlisted event types default to priority 3; security events are always 5

package notify

import "strings"

// defaultPriority applies to event types absent from the table.
const defaultPriority = 3

// priorityTable maps event types to priorities 1..5. Loaded at init;
// immutable afterwards.
var priorityTable = map[string]int{
	"webhook.pr_merged":             5,
	"webhook.check_suite_failed":    5,
	"webhook.pr_opened":             4,
	"webhook.pr_closed":             4,
	"webhook.review_requested":      4,
	"webhook.review_submitted":      4,
	"agent.task_completed":          4,
	"agent.task_failed":             4,
	"webhook.pr_synchronize":        3,
	"webhook.pr_reopened":           3,
	"webhook.check_suite_completed": 3,
	"webhook.pr_labeled":            2,
	"webhook.pr_unlabeled":          2,
	"webhook.issue_comment":         2,
}

// PriorityFor derives the priority for an event type.
func PriorityFor(eventType string) int {
	if strings.HasPrefix(eventType, "security.") {
		return 5
	}
	if p, ok := priorityTable[eventType]; ok {
		return p
	}
	return defaultPriority
}
