package types

import "encoding/json"

// Kind discriminates the two shapes a tool invocation can produce.
type Kind string

const (
	KindValue  Kind = "value"
	KindStream Kind = "stream"
)

// StreamEvent is one decoded `data:` line of an event stream.
type StreamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Result is the normalized outcome of a tool invocation.
//
// For KindValue only Payload is set: the decoded JSON body, or the raw body
// text when the response was not JSON. For KindStream, AccumulatedText holds
// the concatenated chunk/delta text (empty when none was produced), Events
// every recorded event in arrival order and EventCount their number. Message
// explains an empty stream.
type Result struct {
	Kind            Kind          `json:"kind"`
	Payload         any           `json:"payload,omitempty"`
	AccumulatedText string        `json:"accumulatedText,omitempty"`
	Events          []StreamEvent `json:"events,omitempty"`
	EventCount      int           `json:"eventCount"`
	Message         string        `json:"message,omitempty"`
}

func ValueResult(payload any) Result {
	return Result{Kind: KindValue, Payload: payload}
}
