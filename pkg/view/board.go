// Package view renders the task list for a terminal and mirrors it to
// browser viewers.
package view

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/voicetodo/internal/config"
	"github.com/teslashibe/voicetodo/pkg/todo"
)

// EmptyText is shown when the list has no tasks.
const EmptyText = `No tasks yet. Try saying "Add buy milk"`

// TimeLayout formats task timestamps in local time.
const TimeLayout = "2006-01-02 15:04:05"

// Theme is the board colour scheme.
type Theme int

const (
	ThemeLight Theme = iota
	ThemeDark
)

// String returns "light" or "dark".
func (t Theme) String() string {
	if t == ThemeDark {
		return "dark"
	}
	return "light"
}

// Apply returns the theme after intent.
func (t Theme) Apply(intent todo.ThemeIntent) Theme {
	switch intent {
	case todo.ThemeDark:
		return ThemeDark
	case todo.ThemeLight:
		return ThemeLight
	case todo.ThemeToggle:
		if t == ThemeDark {
			return ThemeLight
		}
		return ThemeDark
	default:
		return t
	}
}

// Snapshot is what a viewer needs to draw the board.
type Snapshot struct {
	Tasks  []todo.Task `json:"tasks"`
	Toast  string      `json:"toast,omitempty"`
	Theme  string      `json:"theme"`
	Status string      `json:"status,omitempty"`
}

// Mirror receives a snapshot after every redraw. Publish must not block.
type Mirror interface {
	Publish(s Snapshot) error
}

// Option configures a Board.
type Option func(*Board)

// WithToastTimeout sets how long a toast stays up.
func WithToastTimeout(d time.Duration) Option {
	return func(b *Board) {
		if d > 0 {
			b.toastTimeout = d
		}
	}
}

// WithLocation sets the zone timestamps are shown in.
func WithLocation(loc *time.Location) Option {
	return func(b *Board) {
		if loc != nil {
			b.location = loc
		}
	}
}

// WithMirror adds a snapshot sink.
func WithMirror(m Mirror) Option {
	return func(b *Board) { b.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.logger = l
		}
	}
}

// Board is the List View. It is safe for concurrent use.
type Board struct {
	out          io.Writer
	toastTimeout time.Duration
	location     *time.Location
	mirror       Mirror
	logger       *slog.Logger

	mu       sync.Mutex
	tasks    []todo.Task
	theme    Theme
	status   string
	toast    string
	timer    *time.Timer
	toastSeq uint64
}

// NewBoard creates a board drawing to out.
func NewBoard(out io.Writer, opts ...Option) *Board {
	b := &Board{
		out:          out,
		toastTimeout: config.DefaultToastTimeout,
		location:     time.Local,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "view")
	return b
}

// Render replaces the displayed list and redraws.
func (b *Board) Render(tasks []todo.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append([]todo.Task(nil), tasks...)
	b.redraw()
}

// Toast shows msg and hides it after the toast timeout. A newer toast
// replaces an older one and its pending dismissal.
func (b *Board) Toast(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
	}
	b.toastSeq++
	seq := b.toastSeq
	b.toast = msg
	b.timer = time.AfterFunc(b.toastTimeout, func() { b.dismiss(seq) })
	b.redraw()
}

func (b *Board) dismiss(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq != b.toastSeq {
		return
	}
	b.toast = ""
	b.timer = nil
	b.redraw()
}

// ApplyTheme changes the theme and returns the result.
func (b *Board) ApplyTheme(intent todo.ThemeIntent) Theme {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.theme.Apply(intent)
	if next != b.theme {
		b.theme = next
		b.redraw()
	}
	return next
}

// SetStatus shows the session status line.
func (b *Board) SetStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == b.status {
		return
	}
	b.status = status
	b.redraw()
}

// Theme returns the current theme.
func (b *Board) Theme() Theme {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.theme
}

// CurrentToast returns the visible toast, or "".
func (b *Board) CurrentToast() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.toast
}

// Snapshot returns the current board contents.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

// Frame returns the text drawn for the current contents.
func (b *Board) Frame() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame()
}

// Close cancels a pending toast dismissal.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.toastSeq++
}

func (b *Board) snapshot() Snapshot {
	return Snapshot{
		Tasks:  append([]todo.Task{}, b.tasks...),
		Toast:  b.toast,
		Theme:  b.theme.String(),
		Status: b.status,
	}
}

// redraw writes the frame and publishes a snapshot. Callers hold b.mu.
func (b *Board) redraw() {
	if b.out != nil {
		if _, err := io.WriteString(b.out, b.frame()); err != nil {
			b.logger.Warn("draw board", "error", err)
		}
	}
	if b.mirror != nil {
		if err := b.mirror.Publish(b.snapshot()); err != nil {
			b.logger.Warn("mirror board", "error", err)
		}
	}
}

func (b *Board) frame() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "== To-do [%s]", b.theme)
	if b.status != "" {
		fmt.Fprintf(&sb, " %s", b.status)
	}
	sb.WriteString(" ==\n")

	if len(b.tasks) == 0 {
		sb.WriteString(EmptyText + "\n")
	}
	for i, t := range b.tasks {
		sb.WriteString(Line(i+1, t, b.location))
		sb.WriteByte('\n')
	}

	if b.toast != "" {
		fmt.Fprintf(&sb, ">> %s\n", b.toast)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// Line formats one entry as " N. text  (timestamp)". The timestamp part is
// left out when the task has none.
func Line(position int, t todo.Task, loc *time.Location) string {
	line := fmt.Sprintf("%2d. %s", position, t.Text)
	if ts := t.Time(); !ts.IsZero() {
		if loc == nil {
			loc = time.Local
		}
		line += "  (" + ts.In(loc).Format(TimeLayout) + ")"
	}
	return line
}
