package sse

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/kbukum/streamkit/errors"
)

type delta struct {
	Text string `json:"text"`
}

const sampleStream = ": keep-alive\n" +
	"event: message\n" +
	"data: {\"text\":\"Hel\"}\n" +
	"\n" +
	"data: {\"text\":\"lo\"}\r\n" +
	"id: 7\n" +
	"data:{\"text\":\", wor\"}\n" +
	"   data: {\"text\":\"ld\"}   \n" +
	"data: [DONE]\n" +
	"data: {\"text\":\"after done\"}\n"

func messages(frames []Frame[delta]) (texts []string, terminal bool) {
	for _, f := range frames {
		if f.Terminal {
			terminal = true
			continue
		}
		texts = append(texts, f.Message.Text)
	}
	return texts, terminal
}

func TestDecoder_SingleChunk(t *testing.T) {
	d := NewDecoder[delta]()
	got, terminal := messages(d.ProcessChunk([]byte(sampleStream)))

	want := []string{"Hel", "lo", ", wor", "ld"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !terminal {
		t.Error("expected terminal frame")
	}
	if !d.Done() {
		t.Error("expected decoder to be done")
	}
	if d.ProcessChunk([]byte("data: {\"text\":\"x\"}\n")) != nil {
		t.Error("expected no frames after terminal")
	}
	if d.Flush() != nil {
		t.Error("expected no frames from Flush after terminal")
	}
}

func TestDecoder_SplitInvariance(t *testing.T) {
	whole := NewDecoder[delta]()
	want := whole.ProcessChunk([]byte(sampleStream))
	want = append(want, whole.Flush()...)

	for split := 0; split <= len(sampleStream); split++ {
		d := NewDecoder[delta]()
		got := d.ProcessChunk([]byte(sampleStream[:split]))
		got = append(got, d.ProcessChunk([]byte(sampleStream[split:]))...)
		got = append(got, d.Flush()...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %v, want %v", split, got, want)
		}
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	d := NewDecoder[delta]()
	var frames []Frame[delta]
	for i := 0; i < len(sampleStream); i++ {
		frames = append(frames, d.ProcessChunk([]byte{sampleStream[i]})...)
		if d.Buffered() > 0 && strings.Contains(string(d.buf), "\n") {
			t.Fatalf("buffer holds a complete line at offset %d", i)
		}
	}
	got, terminal := messages(frames)
	if len(got) != 4 || !terminal {
		t.Errorf("got %v terminal=%v", got, terminal)
	}
}

func TestDecoder_MalformedLineIsSkipped(t *testing.T) {
	var dropped []string
	var dropErr error
	d := NewDecoder[delta](WithDiagnosticSink(func(line string, err error) {
		dropped = append(dropped, line)
		dropErr = err
	}))

	input := "data: {\"text\":\"a\"}\ndata: {broken\ndata: {\"text\":\"b\"}\n"
	got, _ := messages(d.ProcessChunk([]byte(input)))

	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("got %v, want [a b]", got)
	}
	if len(dropped) != 1 || dropped[0] != "data: {broken" {
		t.Errorf("unexpected dropped lines: %v", dropped)
	}
	if !errors.IsDecode(dropErr) {
		t.Errorf("expected decode error, got %v", dropErr)
	}
	if d.Done() {
		t.Error("malformed line must not end the stream")
	}
}

func TestDecoder_IgnoredLines(t *testing.T) {
	sinkCalls := 0
	d := NewDecoder[delta](WithDiagnosticSink(func(string, error) { sinkCalls++ }))

	input := "\n\n: comment\nevent: ping\nid: 1\nretry: 100\ndata:\ndata: \n"
	if frames := d.ProcessChunk([]byte(input)); len(frames) != 0 {
		t.Errorf("expected no frames, got %v", frames)
	}
	if sinkCalls != 0 {
		t.Errorf("ignored lines must not reach the sink, got %d calls", sinkCalls)
	}
}

func TestDecoder_Flush(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     []string
		terminal bool
	}{
		{"trailing message without newline", "data: {\"text\":\"a\"}\ndata: {\"text\":\"b\"}", []string{"a", "b"}, false},
		{"trailing sentinel", "data: {\"text\":\"a\"}\ndata: [DONE]", []string{"a"}, true},
		{"trailing garbage", "data: {\"text\":\"a\"}\ndata: {", []string{"a"}, false},
		{"empty", "", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDecoder[delta]()
			frames := d.ProcessChunk([]byte(tc.input))
			frames = append(frames, d.Flush()...)
			got, terminal := messages(frames)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
			if terminal != tc.terminal {
				t.Errorf("terminal = %v, want %v", terminal, tc.terminal)
			}
			if d.Buffered() != 0 {
				t.Errorf("expected empty buffer after Flush, got %d bytes", d.Buffered())
			}
		})
	}
}

func TestDecoder_MapMessages(t *testing.T) {
	d := NewDecoder[map[string]any]()
	frames := d.ProcessChunk([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if _, ok := frames[0].Message["choices"]; !ok {
		t.Errorf("expected choices key, got %v", frames[0].Message)
	}
}

func TestDecoder_MaxLineSize(t *testing.T) {
	var dropped int
	d := NewDecoder[delta](
		WithMaxLineSize(32),
		WithDiagnosticSink(func(string, error) { dropped++ }),
	)

	long := "data: {\"text\":\"" + strings.Repeat("x", 64)
	if frames := d.ProcessChunk([]byte(long)); len(frames) != 0 {
		t.Fatalf("expected no frames, got %v", frames)
	}
	if d.Buffered() != 0 {
		t.Errorf("expected oversized line to be discarded, %d bytes buffered", d.Buffered())
	}
	// remainder of the oversized line, then a normal line
	got, _ := messages(d.ProcessChunk([]byte(strings.Repeat("y", 64) + "\"}\ndata: {\"text\":\"ok\"}\n")))
	if !reflect.DeepEqual(got, []string{"ok"}) {
		t.Errorf("got %v, want [ok]", got)
	}
	if dropped != 1 {
		t.Errorf("expected one diagnostic, got %d", dropped)
	}
}

func TestTruncateLine(t *testing.T) {
	if truncateLine("short") != "short" {
		t.Error("short line should be unchanged")
	}
	long := strings.Repeat("z", 300)
	if got := truncateLine(long); len(got) != 259 {
		t.Errorf("expected truncated length 259, got %d", len(got))
	}
}

func ExampleDecoder() {
	d := NewDecoder[delta]()
	for _, chunk := range []string{"data: {\"te", "xt\":\"hi\"}\n", "data: [DONE]\n"} {
		for _, f := range d.ProcessChunk([]byte(chunk)) {
			if f.Terminal {
				fmt.Println("done")
				continue
			}
			fmt.Println(f.Message.Text)
		}
	}
	// Output:
	// hi
	// done
}
