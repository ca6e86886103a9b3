// Package schedule runs persisted one-shot tasks, at most one per objective.
//
// Scheduler is an actor: the task list belongs to its goroutine, each task's
// timer waits on a goroutine of its own, and a fired timer reports back with
// a completion message instead of touching the list.
package schedule
