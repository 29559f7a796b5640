package providerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// state tracks the process-global failover bookkeeping for one provider.
// Failover state is explicitly not per-session: it is shared across every
// session's agent loop.
type state struct {
	entry     Entry
	failCount int
	lastFail  time.Time
	limiter   *rate.Limiter
	client    *openai.Client
}

// Pool is the ordered multi-provider LLM client. Providers are tried
// starting at currentIndex, wrapping modulo N; a provider whose backoff
// window has not elapsed is skipped.
type Pool struct {
	mu           sync.Mutex
	states       []*state
	currentIndex int
	httpClient   *http.Client
}

// New builds a Pool from entries sorted ascending by Priority.
func New(entries []Entry) *Pool {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	httpClient := &http.Client{}

	states := make([]*state, len(sorted))
	for i, e := range sorted {
		var limiter *rate.Limiter
		if e.RateLimitPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(e.RateLimitPerSecond), 1)
		}
		clientCfg := openai.DefaultConfig(e.APIKey)
		clientCfg.BaseURL = strings.TrimRight(e.APIBase, "/")
		clientCfg.HTTPClient = httpClient
		states[i] = &state{entry: e, limiter: limiter, client: openai.NewClientWithConfig(clientCfg)}
	}

	return &Pool{
		states:     states,
		httpClient: httpClient,
	}
}

// Len returns the number of configured providers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// CurrentProvider returns the name of the provider that will be tried first.
func (p *Pool) CurrentProvider() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return ""
	}
	return p.states[p.currentIndex%len(p.states)].entry.Name
}

// backoffElapsed reports whether s's failure backoff window has passed.
func backoffElapsed(s *state, now time.Time) bool {
	if s.failCount == 0 {
		return true
	}
	wait := time.Duration(s.failCount) * backoffPerFail
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return now.Sub(s.lastFail) >= wait
}

// order returns provider states to try this call, starting at currentIndex
// and wrapping, skipping those still in their backoff window.
func (p *Pool) order() []*state {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.states)
	ordered := make([]*state, 0, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		s := p.states[(p.currentIndex+i)%n]
		if backoffElapsed(s, now) {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func (p *Pool) recordSuccess(s *state) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.failCount = 0
	for i, st := range p.states {
		if st == s {
			p.currentIndex = i
			break
		}
	}
}

func (p *Pool) recordFailure(s *state) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.failCount++
	s.lastFail = time.Now()
}

// Chat sends one complete (non-streaming) completion request, failing over
// across providers in priority order.
func (p *Pool) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ordered := p.order()
	if len(ordered) == 0 {
		return nil, &AllProvidersFailedError{}
	}

	var failures []ProviderError
	for _, s := range ordered {
		resp, err := p.chatOnce(ctx, s, req)
		if err == nil {
			p.recordSuccess(s)
			return resp, nil
		}
		p.recordFailure(s)
		failures = append(failures, ProviderError{Provider: s.entry.Name, Err: err})
	}
	return nil, &AllProvidersFailedError{Errors: failures}
}

// chatOnce sends one non-streaming completion request through go-openai's
// client, built against s.entry's APIBase/APIKey in New. Using the real
// client (rather than hand-rolling the request body) is what exercises
// toOpenAIMessages/toOpenAITools/fromOpenAIToolCalls in convert.go.
func (p *Pool) chatOnce(ctx context.Context, s *state, req ChatRequest) (*ChatResponse, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.entry.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   s.entry.MaxTokens,
		Temperature: float32(s.entry.Temperature),
		Tools:       toOpenAITools(req.Tools),
		ToolChoice:  req.ToolChoice,
	})
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return &ChatResponse{ProviderName: s.entry.Name}, nil
	}

	msg := resp.Choices[0].Message
	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: fromOpenAIToolCalls(msg.ToolCalls),
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		ProviderName: s.entry.Name,
	}, nil
}

// convertOpenAIError unwraps go-openai's *openai.APIError into this
// package's own APIError so AllProvidersFailedError reports a consistent
// status/body shape regardless of which call path produced the failure.
func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	return err
}

// ChatStream sends a streaming completion request and returns a channel of
// raw delta chunks. Tool-call delta reassembly is the consumer's
// obligation; this call only fails over to select which single provider
// serves the whole stream, since mid-stream failover would violate the
// ordering guarantee on emitted deltas.
func (p *Pool) ChatStream(ctx context.Context, req ChatRequest) (<-chan *StreamEvent, error) {
	ordered := p.order()
	if len(ordered) == 0 {
		return nil, &AllProvidersFailedError{}
	}

	var failures []ProviderError
	for _, s := range ordered {
		ch, err := p.streamOnce(ctx, s, req)
		if err == nil {
			p.recordSuccess(s)
			return ch, nil
		}
		p.recordFailure(s)
		failures = append(failures, ProviderError{Provider: s.entry.Name, Err: err})
	}
	return nil, &AllProvidersFailedError{Errors: failures}
}

func (p *Pool) streamOnce(ctx context.Context, s *state, req ChatRequest) (<-chan *StreamEvent, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body := wireRequest{
		Model:       s.entry.Model,
		Messages:    req.Messages,
		MaxTokens:   s.entry.MaxTokens,
		Temperature: s.entry.Temperature,
		Stream:      true,
		Tools:       toWireTools(req.Tools),
		ToolChoice:  req.ToolChoice,
	}

	respBody, err := p.post(ctx, s.entry, body)
	if err != nil {
		return nil, err
	}

	out := make(chan *StreamEvent)
	go parseSSE(ctx, respBody, s.entry.Name, out)
	return out, nil
}

func (p *Pool) post(ctx context.Context, entry Entry, body wireRequest) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, requestDeadline)

	payload, err := json.Marshal(body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(entry.APIBase, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if entry.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+entry.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		defer cancel()
		data, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	return &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnCloseBody releases the per-request deadline context when the
// response body is closed (stream finished, or the caller cancelled).
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// SwitchModel resolves key against (integer index, provider name
// case-insensitive, model name case-insensitive) in that order, and sets
// currentIndex to the first match.
func (p *Pool) SwitchModel(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.states)
	if n == 0 {
		return fmt.Errorf("no providers configured")
	}

	if idx, err := strconv.Atoi(key); err == nil {
		if idx < 0 || idx >= n {
			return fmt.Errorf("provider index out of range: %d", idx)
		}
		p.currentIndex = idx
		return nil
	}

	lower := strings.ToLower(key)
	for i, s := range p.states {
		if strings.ToLower(s.entry.Name) == lower {
			p.currentIndex = i
			return nil
		}
	}
	for i, s := range p.states {
		if strings.ToLower(s.entry.Model) == lower {
			p.currentIndex = i
			return nil
		}
	}

	return fmt.Errorf("no provider or model matches %q", key)
}

// Entries returns a snapshot of the configured provider entries in priority order.
func (p *Pool) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.states))
	for i, s := range p.states {
		out[i] = s.entry
	}
	return out
}

// CurrentIndex returns the index that will be tried first on the next call.
func (p *Pool) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIndex
}

// FailCount returns the current failure counter for a named provider, for tests.
func (p *Pool) FailCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.states {
		if s.entry.Name == name {
			return s.failCount
		}
	}
	return -1
}
