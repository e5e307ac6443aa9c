package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Sink delivers one payload to a host-side handler addressed by receiver and handler name.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(receiverID, handler, payload string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(receiverID, handler, payload string) error

func (f SinkFunc) Send(receiverID, handler, payload string) error {
	return f(receiverID, handler, payload)
}

// Envelope is the line format used by stream-oriented sinks.
type Envelope struct {
	Receiver string `json:"receiver"`
	Handler  string `json:"handler"`
	Payload  string `json:"payload"`
}

// Output formats understood by WriterSink.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// WriterSink writes one line per message to an io.Writer.
// With FormatJSON each line is an Envelope; with FormatText it is "receiver.handler: payload".
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewWriterSink returns a sink writing to w. An empty format means FormatJSON.
func NewWriterSink(w io.Writer, format string) (*WriterSink, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatText:
	default:
		return nil, fmt.Errorf("invalid output format %q: must be %s or %s", format, FormatJSON, FormatText)
	}
	return &WriterSink{w: w, format: format}, nil
}

func (s *WriterSink) Send(receiverID, handler, payload string) error {
	line, err := FormatEnvelope(s.format, Envelope{Receiver: receiverID, Handler: handler, Payload: payload})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = io.WriteString(s.w, line)
	return err
}

// FormatEnvelope renders e as a single newline-terminated line.
func FormatEnvelope(format string, e Envelope) (string, error) {
	if format == FormatText {
		return fmt.Sprintf("%s.%s: %s\n", e.Receiver, e.Handler, e.Payload), nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
