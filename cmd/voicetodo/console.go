package main

import (
	"errors"
	"strconv"
	"strings"
)

// Console verbs understood by the listen command.
const (
	verbStart  = "start"
	verbStop   = "stop"
	verbToggle = "toggle"
	verbRemove = "rm"
	verbSay    = "say"
	verbDo     = "do"
	verbList   = "list"
	verbHelp   = "help"
	verbQuit   = "quit"
)

const consoleHelp = `commands:
  start | stop | toggle   control the voice session
  rm N                    remove task N
  say TEXT                send TEXT to the model as if spoken
  do TEXT                 apply TEXT as a transcript locally
  list                    redraw the board
  quit                    exit`

var errUnknownVerb = errors.New("unknown command, try 'help'")

// consoleCommand is one parsed line of console input.
type consoleCommand struct {
	verb     string
	text     string
	position int
}

// parseConsole parses a console line. Empty lines yield an empty verb.
func parseConsole(line string) (consoleCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleCommand{}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	verb = strings.ToLower(verb)
	rest = strings.TrimSpace(rest)

	switch verb {
	case verbStart, verbStop, verbToggle, verbList, verbHelp:
		return consoleCommand{verb: verb}, nil
	case verbQuit, "exit", "q":
		return consoleCommand{verb: verbQuit}, nil
	case verbRemove, "remove", "del":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return consoleCommand{}, errors.New("usage: rm N")
		}
		return consoleCommand{verb: verbRemove, position: n}, nil
	case verbSay, verbDo:
		if rest == "" {
			return consoleCommand{}, errors.New("usage: " + verb + " TEXT")
		}
		return consoleCommand{verb: verb, text: rest}, nil
	default:
		return consoleCommand{}, errUnknownVerb
	}
}
