package providerpool

import (
	"context"
	"io"
	"strings"
	"testing"
)

type stringReadCloser struct {
	io.Reader
}

func (stringReadCloser) Close() error { return nil }

func newBody(s string) io.ReadCloser {
	return stringReadCloser{strings.NewReader(s)}
}

// TestParseSSESkipsMalformedLines is the §8 boundary behavior: a stream
// containing one valid content chunk, a garbage line, and [DONE] yields
// exactly one chunk of content "A".
func TestParseSSESkipsMalformedLines(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n<garbage>\ndata: [DONE]\n"
	out := make(chan *StreamEvent)
	go parseSSE(context.Background(), newBody(raw), "p0", out)

	var events []*StreamEvent
	for ev := range out {
		events = append(events, ev)
	}

	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	if events[0].Err != nil {
		t.Fatalf("unexpected error event: %v", events[0].Err)
	}
	if len(events[0].Chunk.Choices) != 1 || events[0].Chunk.Choices[0].Delta.Content != "A" {
		t.Fatalf("unexpected chunk: %+v", events[0].Chunk)
	}
}

func TestParseSSECarriesBufferAcrossMultipleChunks(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\ndata: [DONE]\n"
	out := make(chan *StreamEvent)
	go parseSSE(context.Background(), newBody(raw), "p0", out)

	var content strings.Builder
	for ev := range out {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
		for _, c := range ev.Chunk.Choices {
			content.WriteString(c.Delta.Content)
		}
	}
	if content.String() != "Hello" {
		t.Fatalf("expected Hello, got %q", content.String())
	}
}

func TestParseSSEEmptyStreamYieldsNoEvents(t *testing.T) {
	out := make(chan *StreamEvent)
	go parseSSE(context.Background(), newBody(""), "p0", out)

	count := 0
	for range out {
		count++
	}
	if count != 0 {
		t.Fatalf("expected no events, got %d", count)
	}
}
