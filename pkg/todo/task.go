// Package todo holds the in-memory task list and the rules that turn a
// spoken phrase into a list mutation.
package todo

import "time"

// Task is a single to-do entry. Its position in the list is its only address.
type Task struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds, 0 when unknown
}

// NewTask creates a task stamped with t.
func NewTask(text string, t time.Time) Task {
	return Task{Text: text, Timestamp: t.UnixMilli()}
}

// Time returns the task timestamp, or the zero time when unset.
func (t Task) Time() time.Time {
	if t.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.Timestamp)
}

// Remove returns a copy of tasks without the entry at the 1-based position.
// ok is false when position is out of range; tasks is then returned as is.
func Remove(tasks []Task, position int) (rest []Task, removed Task, ok bool) {
	if position < 1 || position > len(tasks) {
		return tasks, Task{}, false
	}
	rest = make([]Task, 0, len(tasks)-1)
	rest = append(rest, tasks[:position-1]...)
	rest = append(rest, tasks[position:]...)
	return rest, tasks[position-1], true
}

// Append returns a copy of tasks with t at the end.
func Append(tasks []Task, t Task) []Task {
	out := make([]Task, 0, len(tasks)+1)
	out = append(out, tasks...)
	return append(out, t)
}
