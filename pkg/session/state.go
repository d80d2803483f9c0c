package session

// State is the lifecycle state of a voice session.
type State int

const (
	// StateIdle is the state before the first start.
	StateIdle State = iota
	// StateConnecting covers credential fetch, media open and the SDP exchange.
	StateConnecting
	// StateListening means the connection is up and waiting for speech.
	StateListening
	// StateResponding is entered when a final transcript arrives.
	StateResponding
	// StateStopped is entered on stop.
	StateStopped
	// StateFailed is entered when a start attempt fails.
	StateFailed
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateResponding:
		return "responding"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a connection is live or being set up.
func (s State) Active() bool {
	return s == StateConnecting || s == StateListening || s == StateResponding
}

// Status lines shown to the user for each state.
const (
	StatusIdle         = ""
	StatusInitializing = "Initializing..."
	StatusListening    = "Listening..."
	StatusResponding   = "AI Responding..."
	StatusFailed       = "Failed to connect. Please try again."
	StatusStopped      = "Stopped"
)

// Status returns the status line for s.
func (s State) Status() string {
	switch s {
	case StateConnecting:
		return StatusInitializing
	case StateListening:
		return StatusListening
	case StateResponding:
		return StatusResponding
	case StateStopped:
		return StatusStopped
	case StateFailed:
		return StatusFailed
	default:
		return StatusIdle
	}
}

type event int

const (
	evStart event = iota
	evConnected
	evFailed
	evTranscript
	evResume
	evStop
)

func (e event) String() string {
	switch e {
	case evStart:
		return "start"
	case evConnected:
		return "connected"
	case evFailed:
		return "failed"
	case evTranscript:
		return "transcript"
	case evResume:
		return "resume"
	case evStop:
		return "stop"
	default:
		return "unknown"
	}
}

// transitions is the complete state machine. Pairs not listed are ignored.
var transitions = map[State]map[event]State{
	StateIdle: {
		evStart: StateConnecting,
		evStop:  StateStopped,
	},
	StateConnecting: {
		evConnected: StateListening,
		evFailed:    StateFailed,
		evStop:      StateStopped,
	},
	StateListening: {
		evTranscript: StateResponding,
		evStop:       StateStopped,
	},
	StateResponding: {
		evTranscript: StateResponding,
		evResume:     StateListening,
		evStop:       StateStopped,
	},
	StateStopped: {
		evStart: StateConnecting,
	},
	StateFailed: {
		evStart: StateConnecting,
		evStop:  StateStopped,
	},
}

// next returns the state reached from s on e.
func next(s State, e event) (State, bool) {
	to, ok := transitions[s][e]
	return to, ok
}
