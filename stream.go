package docchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventKind tags a decoded stream event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventToken
	EventConnected
	EventStarted
	EventCompleted
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventConnected:
		return "connected"
	case EventStarted:
		return "start"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is one logical unit decoded from a stream line. Text holds the
// token for EventToken and the server message for EventError; Raw holds the
// undecoded line for EventUnknown.
type StreamEvent struct {
	Kind EventKind
	Text string
	Raw  string
}

// OnStream receives each token in body order. A returned error or panic is
// logged and does not stop the stream.
type OnStream func(chunk string) error

// OnReady is called once the response headers arrive, before any token.
type OnReady func(resp *http.Response)

// StreamSummary is the result of a consumed stream. Terminated is false when
// the body ended without a done/end event.
type StreamSummary struct {
	Code       int
	Message    string
	EventCount int
	TokenCount int
	Terminated bool
}

const (
	ssePrefix             = "data: "
	streamCompleteMessage = "stream completed"
	defaultStreamError    = "server processing error"
	defaultStreamBuffer   = 4096
)

// lineBuffer accumulates bytes between reads and holds at most one partial
// line.
type lineBuffer struct {
	buf []byte
}

// feed appends chunk and returns every complete line, keeping the trailing
// fragment for the next call.
func (b *lineBuffer) feed(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.buf[:i]))
		b.buf = b.buf[i+1:]
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// rest drains the partial line.
func (b *lineBuffer) rest() string {
	s := string(b.buf)
	b.buf = nil
	return s
}

// parseLine classifies one complete line. A nil slice with a nil error means
// the line carried nothing (blank line). An error means no framing matched.
func parseLine(line string) ([]StreamEvent, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	// legacy SSE framing
	if strings.HasPrefix(trimmed, ssePrefix) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed[len(ssePrefix):]), &fields); err != nil {
			return nil, fmt.Errorf("decode sse line: %w", err)
		}
		if chunk := stringField(fields, "chunk"); chunk != "" {
			return []StreamEvent{{Kind: EventToken, Text: chunk}}, nil
		}
		return []StreamEvent{{Kind: EventUnknown, Raw: trimmed}}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("decode ndjson line: %w", err)
	}

	if raw, ok := fields["message"]; ok {
		var message map[string]json.RawMessage
		if json.Unmarshal(raw, &message) == nil {
			if _, ok := message["content"]; ok {
				var events []StreamEvent
				if content := stringField(message, "content"); content != "" {
					events = append(events, StreamEvent{Kind: EventToken, Text: content})
				}
				if boolField(fields, "done") {
					events = append(events, StreamEvent{Kind: EventCompleted})
				}
				return events, nil
			}
		}
	}

	switch typ := stringField(fields, "type"); typ {
	case "":
		return []StreamEvent{{Kind: EventUnknown, Raw: trimmed}}, nil
	case "connected":
		return []StreamEvent{{Kind: EventConnected}}, nil
	case "start":
		return []StreamEvent{{Kind: EventStarted}}, nil
	case "answer":
		if chunk := stringField(fields, "chunk"); chunk != "" {
			return []StreamEvent{{Kind: EventToken, Text: chunk}}, nil
		}
		return nil, nil
	case "end":
		return []StreamEvent{{Kind: EventCompleted}}, nil
	case "error":
		msg := stringField(fields, "message")
		if msg == "" {
			msg = defaultStreamError
		}
		return []StreamEvent{{Kind: EventError, Text: msg}}, nil
	default:
		return []StreamEvent{{Kind: EventUnknown, Raw: trimmed}}, nil
	}
}

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func boolField(fields map[string]json.RawMessage, name string) bool {
	raw, ok := fields[name]
	if !ok {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return false
	}
	return b
}

// StreamDecoder turns a line-oriented body (NDJSON chat deltas, or legacy
// "data: " SSE lines) into token callbacks. OnReady, when set, runs once the
// handler and body are known to be present, before the first read.
type StreamDecoder struct {
	OnReady    func()
	Logger     Logger
	Metrics    *MetricsCollector
	Endpoint   string
	BufferSize int
	Verbose    bool
}

// Decode reads body until a terminal event, an error event, or end of
// stream, and closes body exactly once on every path.
func (d *StreamDecoder) Decode(ctx context.Context, body io.ReadCloser, onToken OnStream) (*StreamSummary, error) {
	if onToken == nil {
		if body != nil {
			body.Close()
		}
		return nil, newError(ErrorTypeStream, CodeNoStreamHandler, StatusMessage(CodeNoStreamHandler), ErrNoStreamHandler)
	}
	if body == nil || body == http.NoBody {
		return nil, newError(ErrorTypeStream, CodeNoStreamBody, StatusMessage(CodeNoStreamBody), ErrNoStreamBody)
	}
	defer func() {
		if err := body.Close(); err != nil {
			d.logger().Warn("Stream body close failed", "endpoint", d.Endpoint, "error", err)
		}
	}()
	if d.OnReady != nil {
		d.OnReady()
	}

	size := d.BufferSize
	if size <= 0 {
		size = defaultStreamBuffer
	}
	buf := make([]byte, size)

	var lb lineBuffer
	summary := &StreamSummary{Code: http.StatusOK, Message: streamCompleteMessage}

	for {
		if err := ctx.Err(); err != nil {
			return nil, classifyTransportError(err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range lb.feed(buf[:n]) {
				done, err := d.handleLine(line, summary, onToken)
				if err != nil {
					return nil, err
				}
				if done {
					summary.Terminated = true
					return summary, nil
				}
			}
		}

		if readErr == io.EOF {
			if tail := lb.rest(); tail != "" {
				done, err := d.handleLine(tail, summary, onToken)
				if err != nil {
					return nil, err
				}
				summary.Terminated = done
			}
			if d.Verbose {
				d.logger().Debug("Stream ended", "endpoint", d.Endpoint, "events", summary.EventCount, "tokens", summary.TokenCount, "terminated", summary.Terminated)
			}
			return summary, nil
		}
		if readErr != nil {
			if err := ctx.Err(); err != nil {
				return nil, classifyTransportError(err)
			}
			return nil, classifyTransportError(readErr)
		}
		// n == 0 without EOF carries nothing; read again.
	}
}

// handleLine decodes and dispatches one line. It reports done on a terminal
// event and returns an error only for server-signalled stream errors.
func (d *StreamDecoder) handleLine(line string, summary *StreamSummary, onToken OnStream) (bool, error) {
	events, err := parseLine(line)
	if err != nil {
		d.logger().Warn("Skipping undecodable stream line", "endpoint", d.Endpoint, "line", line, "error", err)
		d.Metrics.RecordStreamDecodeFailure(d.Endpoint)
		return false, nil
	}
	if events == nil {
		return false, nil
	}
	summary.EventCount++

	for _, ev := range events {
		d.Metrics.RecordStreamEvent(ev.Kind)
		switch ev.Kind {
		case EventToken:
			summary.TokenCount++
			d.Metrics.RecordStreamToken(d.Endpoint)
			if err := d.deliver(onToken, ev.Text); err != nil {
				d.logger().Error("Stream callback failed", "endpoint", d.Endpoint, "error", err)
				d.Metrics.RecordStreamCallbackFailure(d.Endpoint)
			}
		case EventConnected, EventStarted:
			if d.Verbose {
				d.logger().Debug("Stream event", "endpoint", d.Endpoint, "kind", ev.Kind.String())
			}
		case EventCompleted:
			return true, nil
		case EventError:
			return false, newError(ErrorTypeStream, http.StatusInternalServerError, ev.Text, nil)
		case EventUnknown:
			if d.Verbose {
				d.logger().Debug("Ignoring unknown stream event", "endpoint", d.Endpoint, "raw", ev.Raw)
			}
		}
	}
	return false, nil
}

func (d *StreamDecoder) deliver(onToken OnStream, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream callback panicked: %v", r)
		}
	}()
	return onToken(text)
}

func (d *StreamDecoder) logger() Logger {
	if d.Logger == nil {
		return nopLogger{}
	}
	return d.Logger
}
