package providerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const sseDonePayload = "[DONE]"

// parseSSE reads body as a byte stream, maintaining a carry buffer across
// reads and splitting on '\n'. Lines prefixed "data: " are stripped and
// parsed as JSON chunks; malformed chunks are skipped silently rather than
// aborting the stream. The literal payload "[DONE]" ends the stream
// cleanly. Cancellation (ctx.Done) closes body and terminates the sequence.
func parseSSE(ctx context.Context, body io.ReadCloser, providerName string, out chan<- *StreamEvent) {
	defer close(out)
	defer body.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-done:
		}
	}()
	defer close(done)

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if ev, ok := parseSSELine(line, providerName); ok {
				if ev.Err != nil {
					select {
					case out <- ev:
					case <-ctx.Done():
					}
					return
				}
				if ev.Chunk != nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				} else {
					// [DONE] sentinel: clean end, no event emitted.
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case out <- &StreamEvent{Err: err, ProviderName: providerName}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// parseSSELine handles one line already including its trailing '\n' (or not,
// for a final unterminated line). ok is false for blank lines, comments, or
// lines that aren't "data: " prefixed — i.e. nothing to act on.
func parseSSELine(line, providerName string) (*StreamEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, false
	}
	const prefix = "data: "
	if !strings.HasPrefix(line, prefix) {
		// Not an SSE data line (garbage, comment, blank keepalive) — skip silently.
		return nil, false
	}
	payload := strings.TrimPrefix(line, prefix)
	if payload == sseDonePayload {
		return &StreamEvent{ProviderName: providerName}, true
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// Malformed chunk: skipped silently per spec.
		return nil, false
	}
	return &StreamEvent{Chunk: &chunk, ProviderName: providerName}, true
}
