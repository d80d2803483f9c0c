package todo

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AddTrigger starts every add command.
const AddTrigger = "add "

// Result messages shown to the user.
const (
	MsgNothingToAdd  = "Nothing to add."
	MsgThemeDark     = "Theme changed to dark"
	MsgThemeLight    = "Theme changed to light"
	MsgThemeToggled  = "Theme toggled"
	MsgInvalidNumber = "Invalid task number."
	MsgNoReference   = "I heard 'delete' but no valid task number or ordinal (e.g. first, second)."
	MsgUnrecognized  = "Command not recognized."
)

// Action is the kind of command a transcript was understood as.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionTheme
	ActionDelete
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionTheme:
		return "theme"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// ThemeIntent asks the view to change its colour scheme.
type ThemeIntent int

const (
	ThemeUnchanged ThemeIntent = iota
	ThemeDark
	ThemeLight
	ThemeToggle
)

// Outcome is the result of interpreting one transcript.
type Outcome struct {
	// Tasks is the list after the command. It shares no backing array with
	// the input when Changed is true.
	Tasks   []Task
	Message string
	Action  Action
	Theme   ThemeIntent

	// Position is the 1-based position added or removed, 0 otherwise.
	Position int
	Changed  bool
}

var (
	digits = regexp.MustCompile(`\d+`)

	ordinals = []struct {
		word string
		n    int
	}{
		{"first", 1},
		{"second", 2},
		{"third", 3},
		{"fourth", 4},
		{"fifth", 5},
	}
)

// Interpreter maps transcripts to list mutations.
type Interpreter struct {
	// Now stamps added tasks. Defaults to time.Now.
	Now func() time.Time
}

// Interpret applies the first matching rule: add, theme, delete, fallback.
// tasks is never modified.
func (in Interpreter) Interpret(transcript string, tasks []Task) Outcome {
	text := strings.TrimSpace(strings.ToLower(transcript))

	if rest, ok := cutTrigger(text); ok {
		return in.add(strings.TrimSpace(rest), tasks)
	}

	if o, ok := theme(text, tasks); ok {
		return o
	}

	if strings.Contains(text, "delete") || strings.Contains(text, "remove") {
		return remove(text, tasks)
	}

	return Outcome{Tasks: tasks, Message: MsgUnrecognized}
}

// Interpret uses a default Interpreter.
func Interpret(transcript string, tasks []Task) Outcome {
	return Interpreter{}.Interpret(transcript, tasks)
}

// cutTrigger also accepts the bare trigger word, which is what "add " looks
// like once the transcript has been trimmed.
func cutTrigger(text string) (string, bool) {
	if text == strings.TrimSpace(AddTrigger) {
		return "", true
	}
	return strings.CutPrefix(text, AddTrigger)
}

func (in Interpreter) add(text string, tasks []Task) Outcome {
	if text == "" {
		return Outcome{Tasks: tasks, Message: MsgNothingToAdd, Action: ActionAdd}
	}
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}
	out := Append(tasks, NewTask(text, now()))
	return Outcome{
		Tasks:    out,
		Message:  "Added task: " + text,
		Action:   ActionAdd,
		Position: len(out),
		Changed:  true,
	}
}

func theme(text string, tasks []Task) (Outcome, bool) {
	if !strings.Contains(text, "theme") {
		return Outcome{}, false
	}
	o := Outcome{Tasks: tasks, Action: ActionTheme}
	switch {
	case strings.Contains(text, "light to dark"):
		o.Theme, o.Message = ThemeDark, MsgThemeDark
	case strings.Contains(text, "dark to light"):
		o.Theme, o.Message = ThemeLight, MsgThemeLight
	case strings.Contains(text, "toggle theme"):
		o.Theme, o.Message = ThemeToggle, MsgThemeToggled
	default:
		return Outcome{}, false
	}
	return o, true
}

func remove(text string, tasks []Task) Outcome {
	n, found := Reference(text)
	if !found {
		return Outcome{Tasks: tasks, Message: MsgNoReference, Action: ActionDelete}
	}
	rest, removed, ok := Remove(tasks, n)
	if !ok {
		return Outcome{Tasks: tasks, Message: MsgInvalidNumber, Action: ActionDelete}
	}
	return Outcome{
		Tasks:    rest,
		Message:  fmt.Sprintf("Deleted task %d: %s", n, removed.Text),
		Action:   ActionDelete,
		Position: n,
		Changed:  true,
	}
}

// Reference finds the task position a phrase refers to: the first run of
// digits, else the first ordinal word from first to fifth.
// Numbers too large for an int come back as math.MaxInt so they fail the
// range check.
func Reference(text string) (int, bool) {
	if m := digits.FindString(text); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil {
			return math.MaxInt, true
		}
		return n, true
	}
	for _, o := range ordinals {
		if strings.Contains(text, o.word) {
			return o.n, true
		}
	}
	return 0, false
}
