// Package stream folds a server-sent event stream into a single result.
//
// A Normalizer is advanced one read at a time with Feed and finished with
// Close or Fail. The line assembly buffer lives on the Normalizer, so a line
// split across reads is decoded exactly as if it had arrived whole.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/edgeopslabs/manifold/pkg/types"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readSize     = 4 << 10

	// EmptyMessage is reported for a stream that ended without any event.
	EmptyMessage = "stream completed without any events"
)

// State is the lifecycle position of a Normalizer.
type State int

const (
	Reading State = iota
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Error reports a stream that could not be consumed. Partial output is
// never returned alongside it.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "stream error: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Normalizer accumulates events and text from a stream fed in arbitrary
// chunks. It is not safe for concurrent use.
type Normalizer struct {
	state  State
	buf    []byte
	text   strings.Builder
	events []types.StreamEvent
}

// NewNormalizer returns a Normalizer in the Reading state.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// State reports the current lifecycle state.
func (n *Normalizer) State() State {
	return n.state
}

// Feed appends p to the line buffer and decodes every complete line. The
// trailing fragment stays buffered until the next Feed or Close.
func (n *Normalizer) Feed(p []byte) error {
	if n.state != Reading {
		return fmt.Errorf("feed on %s stream", n.state)
	}
	n.buf = append(n.buf, p...)
	for {
		idx := bytes.IndexByte(n.buf, '\n')
		if idx < 0 {
			break
		}
		line := n.buf[:idx]
		if err := n.processLine(line); err != nil {
			return n.Fail(err)
		}
		n.buf = n.buf[idx+1:]
	}
	if len(n.buf) == 0 {
		n.buf = nil
	}
	return nil
}

// Close marks the stream exhausted and returns the normalized result.
func (n *Normalizer) Close() (types.Result, error) {
	if n.state != Reading {
		return types.Result{}, fmt.Errorf("close on %s stream", n.state)
	}
	if len(n.buf) > 0 {
		if err := n.processLine(n.buf); err != nil {
			return types.Result{}, n.Fail(err)
		}
		n.buf = nil
	}
	n.state = Done

	result := types.Result{
		Kind:       types.KindStream,
		Events:     n.events,
		EventCount: len(n.events),
	}
	if n.text.Len() > 0 {
		result.AccumulatedText = n.text.String()
	}
	if len(n.events) == 0 {
		result.Message = EmptyMessage
	}
	return result, nil
}

// Fail moves the normalizer to Failed and drops everything accumulated so
// far. It returns cause wrapped in an *Error.
func (n *Normalizer) Fail(cause error) error {
	n.state = Failed
	n.buf = nil
	n.text.Reset()
	n.events = nil
	var streamErr *Error
	if errors.As(cause, &streamErr) {
		return streamErr
	}
	return &Error{Err: cause}
}

func (n *Normalizer) processLine(line []byte) error {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !utf8.Valid(line) {
		return errors.New("invalid utf-8 in event stream")
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil
	}
	payload := string(line[len(dataPrefix):])
	if payload == doneSentinel {
		return nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		raw, _ := json.Marshal(payload)
		n.events = append(n.events, types.StreamEvent{Type: "text", Data: raw})
		n.text.WriteString(payload)
		return nil
	}

	event := types.StreamEvent{Data: json.RawMessage(payload)}
	if obj, ok := decoded.(map[string]any); ok {
		event.Type, _ = obj["type"].(string)
		if event.Type == "chunk" || event.Type == "delta" {
			n.text.WriteString(deltaText(obj))
		}
	}
	n.events = append(n.events, event)
	return nil
}

// deltaText returns the text carried by a chunk or delta event. "content"
// wins over "text" when both are strings.
func deltaText(obj map[string]any) string {
	if s, ok := obj["content"].(string); ok {
		return s
	}
	if s, ok := obj["text"].(string); ok {
		return s
	}
	return ""
}

// Consume reads r to the end through a Normalizer. Cancelling ctx or any
// read error fails the stream.
func Consume(ctx context.Context, r io.Reader) (types.Result, error) {
	n := NewNormalizer()
	chunk := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return types.Result{}, n.Fail(err)
		}
		read, err := r.Read(chunk)
		if read > 0 {
			if ferr := n.Feed(chunk[:read]); ferr != nil {
				return types.Result{}, ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return n.Close()
		}
		if err != nil {
			return types.Result{}, n.Fail(err)
		}
	}
}
