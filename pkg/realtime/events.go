package realtime

import (
	"encoding/json"
	"fmt"
)

// Server event types read from the data channel.
const (
	EventResponseDone    = "response.done"
	EventError           = "error"
	EventSessionCreated  = "session.created"
	EventSpeechStarted   = "input_audio_buffer.speech_started"
	EventSpeechStopped   = "input_audio_buffer.speech_stopped"
	EventInputTranscript = "conversation.item.input_audio_transcription.completed"
)

// Event is a server event. Only the fields voicetodo reads are decoded.
type Event struct {
	Type     string       `json:"type"`
	EventID  string       `json:"event_id,omitempty"`
	Response *Response    `json:"response,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`

	// Transcript is set on input transcription events.
	Transcript string `json:"transcript,omitempty"`
}

// Response is the payload of a response.done event.
type Response struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []OutputItem `json:"output"`
}

// OutputItem is one item of a response.
type OutputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one content part of an output item.
type ContentPart struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
}

// ErrorDetail is the payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEvent decodes a data channel message.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}

// FinalTranscript returns the transcript of the first content part of the
// first output item of a response.done event.
func (e Event) FinalTranscript() (string, bool) {
	if e.Type != EventResponseDone || e.Response == nil {
		return "", false
	}
	if len(e.Response.Output) == 0 || len(e.Response.Output[0].Content) == 0 {
		return "", false
	}
	t := e.Response.Output[0].Content[0].Transcript
	return t, t != ""
}

// TextInput returns the client events that add a typed user message to the
// conversation and ask for a response.
func TextInput(text string) []any {
	return []any{
		map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type": "message",
				"role": "user",
				"content": []map[string]any{
					{"type": "input_text", "text": text},
				},
			},
		},
		map[string]string{"type": "response.create"},
	}
}

// CancelResponse returns the client event that interrupts a response.
func CancelResponse() any {
	return map[string]string{"type": "response.cancel"}
}
