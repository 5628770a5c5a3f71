package docchat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// chunkedReader returns its data in fixed-size pieces.
type chunkedReader struct {
	data   []byte
	size   int
	closed bool
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func (r *chunkedReader) Close() error {
	r.closed = true
	return nil
}

func collect(tokens *[]string) OnStream {
	return func(chunk string) error {
		*tokens = append(*tokens, chunk)
		return nil
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		kinds []EventKind
		text  string
		err   bool
	}{
		{"blank", "   ", nil, "", false},
		{"ndjson delta", `{"message":{"content":"Hel"},"done":false}`, []EventKind{EventToken}, "Hel", false},
		{"ndjson final", `{"message":{"content":""},"done":true}`, []EventKind{EventCompleted}, "", false},
		{"ndjson final with text", `{"message":{"content":"!"},"done":true}`, []EventKind{EventToken, EventCompleted}, "!", false},
		{"connected", `{"type":"connected"}`, []EventKind{EventConnected}, "", false},
		{"start", `{"type":"start"}`, []EventKind{EventStarted}, "", false},
		{"answer", `{"type":"answer","chunk":"hi"}`, []EventKind{EventToken}, "hi", false},
		{"empty answer", `{"type":"answer","chunk":""}`, nil, "", false},
		{"end", `{"type":"end"}`, []EventKind{EventCompleted}, "", false},
		{"error", `{"type":"error","message":"boom"}`, []EventKind{EventError}, "boom", false},
		{"error default", `{"type":"error"}`, []EventKind{EventError}, defaultStreamError, false},
		{"unknown type", `{"type":"ping"}`, []EventKind{EventUnknown}, "", false},
		{"sse chunk", `data: {"chunk":"x"}`, []EventKind{EventToken}, "x", false},
		{"bad json", `{"message":`, nil, "", true},
		{"bad sse", `data: nope`, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := parseLine(tt.line)
			if (err != nil) != tt.err {
				t.Fatalf("err = %v, want error %v", err, tt.err)
			}
			if len(events) != len(tt.kinds) {
				t.Fatalf("got %d events, want %d", len(events), len(tt.kinds))
			}
			for i, k := range tt.kinds {
				if events[i].Kind != k {
					t.Errorf("event %d kind = %v, want %v", i, events[i].Kind, k)
				}
			}
			if len(events) > 0 && (events[0].Kind == EventToken || events[0].Kind == EventError) && events[0].Text != tt.text {
				t.Errorf("text = %q, want %q", events[0].Text, tt.text)
			}
		})
	}
}

func TestLineBuffer(t *testing.T) {
	var lb lineBuffer
	if lines := lb.feed([]byte(`{"a":`)); len(lines) != 0 {
		t.Errorf("partial feed returned %v", lines)
	}
	lines := lb.feed([]byte("1}\n{\"b\":2}\n{\"c\""))
	if len(lines) != 2 || lines[0] != `{"a":1}` || lines[1] != `{"b":2}` {
		t.Errorf("lines = %q", lines)
	}
	if rest := lb.rest(); rest != `{"c"` {
		t.Errorf("rest = %q", rest)
	}
	if rest := lb.rest(); rest != "" {
		t.Errorf("second rest = %q", rest)
	}
}

func TestStreamDecoderNDJSON(t *testing.T) {
	body := &chunkedReader{
		data: []byte(`{"message":{"content":"Hel"},"done":false}` + "\n" +
			`{"message":{"content":"lo"},"done":false}` + "\n" +
			`{"message":{"content":""},"done":true}` + "\n"),
		size: 1024,
	}

	var tokens []string
	d := &StreamDecoder{}
	summary, err := d.Decode(context.Background(), body, collect(&tokens))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if strings.Join(tokens, "") != "Hello" || len(tokens) != 2 {
		t.Errorf("tokens = %q", tokens)
	}
	if !summary.Terminated || summary.Code != 200 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TokenCount != 2 || summary.EventCount != 3 {
		t.Errorf("counts = %d tokens, %d events", summary.TokenCount, summary.EventCount)
	}
	if !body.closed {
		t.Error("body was not closed")
	}
}

func TestStreamDecoderChunkBoundaries(t *testing.T) {
	payload := `{"type":"connected"}` + "\n" +
		`{"type":"start"}` + "\n" +
		`{"type":"answer","chunk":"α"}` + "\n" +
		`{"type":"answer","chunk":"βγ"}` + "\n" +
		`{"message":{"content":"δ"},"done":false}` + "\n" +
		`{"type":"end"}` + "\n"

	for size := 1; size <= len(payload); size++ {
		var tokens []string
		d := &StreamDecoder{BufferSize: 7}
		summary, err := d.Decode(context.Background(), &chunkedReader{data: []byte(payload), size: size}, collect(&tokens))
		if err != nil {
			t.Fatalf("size %d: Decode() error = %v", size, err)
		}
		if got := strings.Join(tokens, ""); got != "αβγδ" {
			t.Fatalf("size %d: tokens = %q", size, got)
		}
		if !summary.Terminated {
			t.Fatalf("size %d: stream not terminated", size)
		}
	}
}

func TestStreamDecoderStopsAtTerminal(t *testing.T) {
	body := &chunkedReader{
		data: []byte(`{"type":"answer","chunk":"a"}` + "\n" +
			`{"type":"end"}` + "\n" +
			`{"type":"answer","chunk":"after"}` + "\n"),
		size: 4096,
	}
	var tokens []string
	summary, err := (&StreamDecoder{}).Decode(context.Background(), body, collect(&tokens))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "a" {
		t.Errorf("tokens = %q, want [a]", tokens)
	}
	if !summary.Terminated {
		t.Error("expected terminated summary")
	}
}

func TestStreamDecoderTailWithoutNewline(t *testing.T) {
	body := &chunkedReader{data: []byte(`{"type":"answer","chunk":"a"}` + "\n" + `{"type":"answer","chunk":"b"}`), size: 5}
	var tokens []string
	summary, err := (&StreamDecoder{}).Decode(context.Background(), body, collect(&tokens))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if strings.Join(tokens, "") != "ab" {
		t.Errorf("tokens = %q", tokens)
	}
	if summary.Terminated {
		t.Error("EOF without end event must not be reported as terminated")
	}
}

func TestStreamDecoderErrorEvent(t *testing.T) {
	body := &chunkedReader{data: []byte(`{"type":"answer","chunk":"a"}` + "\n" + `{"type":"error","message":"model offline"}` + "\n"), size: 64}
	var tokens []string
	_, err := (&StreamDecoder{}).Decode(context.Background(), body, collect(&tokens))

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if e.Type != ErrorTypeStream || e.Code != 500 || e.Message != "model offline" {
		t.Errorf("error = %+v", e)
	}
	if len(tokens) != 1 {
		t.Errorf("tokens before error = %q", tokens)
	}
	if !body.closed {
		t.Error("body was not closed")
	}
}

func TestStreamDecoderSkipsBadLines(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetricsCollectorWithRegistry(registry)

	body := &chunkedReader{data: []byte("not json\n" + `{"type":"answer","chunk":"ok"}` + "\n" + `{"type":"end"}` + "\n"), size: 64}
	var tokens []string
	d := &StreamDecoder{Metrics: metrics, Endpoint: "test/chat"}
	if _, err := d.Decode(context.Background(), body, collect(&tokens)); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "ok" {
		t.Errorf("tokens = %q", tokens)
	}
	if got := testutil.ToFloat64(metrics.streamDecodeFailures.WithLabelValues("test/chat")); got != 1 {
		t.Errorf("decode failures = %v, want 1", got)
	}
}

func TestStreamDecoderCallbackFailureContinues(t *testing.T) {
	body := &chunkedReader{data: []byte(`{"type":"answer","chunk":"a"}` + "\n" + `{"type":"answer","chunk":"b"}` + "\n" + `{"type":"end"}` + "\n"), size: 64}
	calls := 0
	summary, err := (&StreamDecoder{}).Decode(context.Background(), body, func(chunk string) error {
		calls++
		if chunk == "a" {
			panic("renderer crashed")
		}
		return errors.New("render failed")
	})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if calls != 2 || !summary.Terminated {
		t.Errorf("calls = %d, summary = %+v", calls, summary)
	}
}

func TestStreamDecoderMissingHandlerOrBody(t *testing.T) {
	ready := false
	onReady := func() { ready = true }
	body := &chunkedReader{data: []byte("x"), size: 1}
	_, err := (&StreamDecoder{OnReady: onReady}).Decode(context.Background(), body, nil)
	if CodeOf(err) != CodeNoStreamHandler || !errors.Is(err, ErrNoStreamHandler) {
		t.Errorf("nil handler err = %v", err)
	}
	if !body.closed {
		t.Error("body should be closed when no handler is registered")
	}

	_, err = (&StreamDecoder{OnReady: onReady}).Decode(context.Background(), nil, func(string) error { return nil })
	if CodeOf(err) != CodeNoStreamBody || !errors.Is(err, ErrNoStreamBody) {
		t.Errorf("nil body err = %v", err)
	}
	if ready {
		t.Error("OnReady ran before the handler and body checks")
	}

	_, err = (&StreamDecoder{OnReady: onReady}).Decode(context.Background(), io.NopCloser(strings.NewReader(`{"type":"end"}`+"\n")), func(string) error { return nil })
	if err != nil || !ready {
		t.Errorf("valid stream: err = %v, ready = %v", err, ready)
	}
}

// blockingReader yields one line then blocks until closed.
type blockingReader struct {
	first  []byte
	closed chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if len(r.first) > 0 {
		n := copy(p, r.first)
		r.first = r.first[n:]
		return n, nil
	}
	<-r.closed
	return 0, errors.New("read on closed body")
}

func (r *blockingReader) Close() error {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
	return nil
}

func TestStreamDecoderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := &blockingReader{first: []byte(`{"type":"answer","chunk":"a"}` + "\n"), closed: make(chan struct{})}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		// the transport closes the body when its context is cancelled
		body.Close()
	}()

	var tokens []string
	_, err := (&StreamDecoder{}).Decode(ctx, body, collect(&tokens))
	if !IsCanceled(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if CodeOf(err) != CodeAborted {
		t.Errorf("code = %d, want %d", CodeOf(err), CodeAborted)
	}
	if len(tokens) != 1 {
		t.Errorf("tokens = %q", tokens)
	}
}
