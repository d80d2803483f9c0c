// Package controller owns the task list and applies commands to it. It is
// the single place where voice commands and direct edits meet the view.
package controller

import (
	"log/slog"
	"sync"

	"github.com/teslashibe/voicetodo/pkg/todo"
	"github.com/teslashibe/voicetodo/pkg/view"
)

// Controller holds the in-memory list. It is safe for concurrent use.
type Controller struct {
	interpreter todo.Interpreter
	board       *view.Board
	logger      *slog.Logger

	mu    sync.Mutex
	tasks []todo.Task
}

// New creates a controller with an empty list and draws the empty board.
// A nil logger uses slog.Default.
func New(board *view.Board, interpreter todo.Interpreter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		interpreter: interpreter,
		board:       board,
		logger:      logger.With("component", "controller"),
	}
	board.Render(nil)
	return c
}

// HandleTranscript interprets one final transcript, applies the outcome and
// returns the result message.
func (c *Controller) HandleTranscript(text string) string {
	c.mu.Lock()
	out := c.interpreter.Interpret(text, c.tasks)
	c.tasks = out.Tasks
	tasks := c.tasks
	c.mu.Unlock()

	c.logger.Info("command", "transcript", text, "action", out.Action.String(), "result", out.Message)

	if out.Changed {
		c.board.Render(tasks)
	}
	if out.Theme != todo.ThemeUnchanged {
		c.board.ApplyTheme(out.Theme)
	}
	c.board.Toast(out.Message)
	return out.Message
}

// RemoveAt deletes the task at the 1-based position, as a spoken delete
// would. It reports false when there is no such task.
func (c *Controller) RemoveAt(position int) (todo.Task, bool) {
	c.mu.Lock()
	rest, removed, ok := todo.Remove(c.tasks, position)
	if ok {
		c.tasks = rest
	}
	c.mu.Unlock()

	if !ok {
		c.board.Toast(todo.MsgInvalidNumber)
		return todo.Task{}, false
	}
	c.logger.Info("removed task", "position", position, "text", removed.Text)
	c.board.Render(rest)
	return removed, true
}

// Tasks returns a copy of the list.
func (c *Controller) Tasks() []todo.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]todo.Task{}, c.tasks...)
}
