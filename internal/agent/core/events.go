package core

// EventType tags a stream event.
type EventType string

const (
	EventStatus EventType = "status"
	EventAnswer EventType = "answer"
	EventError  EventType = "error"
)

// Reasoning wraps the persisted step trace for the terminal event.
type Reasoning struct {
	Steps []Step `json:"steps"`
}

// Event is one record of the streaming protocol. Any number of status events
// (including zero) precede exactly one answer or error, which terminates the
// sequence. The HTTP layer serializes each event as one JSON line.
type Event struct {
	Type      EventType  `json:"type"`
	Content   string     `json:"content,omitempty"`
	Response  string     `json:"response,omitempty"`
	Sources   []string   `json:"sources,omitempty"`
	Reasoning *Reasoning `json:"reasoning_data,omitempty"`
}

// StatusEvent builds a progress event.
func StatusEvent(text string) Event {
	return Event{Type: EventStatus, Content: text}
}

// AnswerEvent builds the successful terminal event.
func AnswerEvent(text string, sources []string, steps []Step) Event {
	return Event{
		Type:      EventAnswer,
		Response:  text,
		Sources:   sources,
		Reasoning: &Reasoning{Steps: steps},
	}
}

// ErrorEvent builds the failing terminal event.
func ErrorEvent(text string) Event {
	return Event{Type: EventError, Content: text}
}

// Terminal reports whether the event ends a request's sequence.
func (e Event) Terminal() bool {
	return e.Type == EventAnswer || e.Type == EventError
}
