// Package status is the task status state machine. It performs no I/O.
//
// A task is blocked while any of its live dependencies is not Completed.
// Completed always wins: it is accepted regardless of blocking and is never
// changed by propagation.
package status

import "taskgraph/pkg/task"

// Derive reports whether a task with the given dependency statuses is blocked.
func Derive(deps []task.Status) bool {
	for _, s := range deps {
		if s != task.StatusCompleted {
			return true
		}
	}
	return false
}

// Decide resolves an explicit request for requested. While blocked, any
// request other than Completed is coerced to Blocked rather than rejected.
func Decide(requested task.Status, blocked bool) task.Status {
	if requested == task.StatusCompleted {
		return task.StatusCompleted
	}
	if blocked {
		return task.StatusBlocked
	}
	return requested
}

// Settle returns the status a task should hold after its dependencies
// changed. Unblocking always lands on Open.
func Settle(current task.Status, blocked bool) task.Status {
	switch {
	case current == task.StatusCompleted:
		return current
	case blocked:
		return task.StatusBlocked
	case current == task.StatusBlocked:
		return task.StatusOpen
	}
	return current
}
