package providerpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestChatFailoverAdvancesCurrentIndex verifies that when a higher-priority
// provider returns 503 and a lower-priority one succeeds, failCount and
// currentIndex afterward reflect exactly that outcome.
func TestChatFailoverAdvancesCurrentIndex(t *testing.T) {
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer badSrv.Close()

	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer goodSrv.Close()

	p := New([]Entry{
		{Name: "p0", APIBase: badSrv.URL, Priority: 0},
		{Name: "p1", APIBase: goodSrv.URL, Priority: 1},
	})

	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []WireMessage{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected content %q, got %q", "ok", resp.Content)
	}
	if got := p.FailCount("p0"); got != 1 {
		t.Fatalf("expected p0.failCount == 1, got %d", got)
	}
	if got := p.FailCount("p1"); got != 0 {
		t.Fatalf("expected p1.failCount == 0, got %d", got)
	}
	if got := p.CurrentIndex(); got != 1 {
		t.Fatalf("expected currentIndex == 1, got %d", got)
	}
}

// TestChatAllProvidersFailedSinglePool covers the single-provider-pool
// boundary case: every provider fails, AllProvidersFailedError is returned.
func TestChatAllProvidersFailedSinglePool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New([]Entry{{Name: "only", APIBase: srv.URL}})

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	allFailed, ok := err.(*AllProvidersFailedError)
	if !ok {
		t.Fatalf("expected *AllProvidersFailedError, got %T", err)
	}
	if len(allFailed.Errors) != 1 {
		t.Fatalf("expected 1 per-provider error, got %d", len(allFailed.Errors))
	}
}

// TestChatSuccessAfterPriorFailureResetsFailCount verifies that after a
// successful call via a provider, that provider's failCount resets to 0 and
// currentIndex points at it, even if it had previously failed.
func TestChatSuccessAfterPriorFailureResetsFailCount(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := New([]Entry{{Name: "only", APIBase: srv.URL}})

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected first call to fail")
	}
	if got := p.FailCount("only"); got != 1 {
		t.Fatalf("expected failCount 1 after first failure, got %d", got)
	}

	// Move the failure outside its 30s backoff window so the retry is not
	// skipped.
	p.states[0].lastFail = time.Now().Add(-2 * backoffPerFail)

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected ok, got %q", resp.Content)
	}
	if got := p.FailCount("only"); got != 0 {
		t.Fatalf("expected failCount reset to 0, got %d", got)
	}
	if got := p.CurrentIndex(); got != 0 {
		t.Fatalf("expected currentIndex 0, got %d", got)
	}
}

func TestSwitchModelResolutionOrder(t *testing.T) {
	p := New([]Entry{
		{Name: "alpha", Model: "gpt-4"},
		{Name: "beta", Model: "claude-3"},
	})

	if err := p.SwitchModel("1"); err != nil {
		t.Fatalf("index resolution failed: %v", err)
	}
	if got := p.CurrentIndex(); got != 1 {
		t.Fatalf("expected index 1, got %d", got)
	}

	if err := p.SwitchModel("ALPHA"); err != nil {
		t.Fatalf("name resolution failed: %v", err)
	}
	if got := p.CurrentIndex(); got != 0 {
		t.Fatalf("expected index 0 after name match, got %d", got)
	}

	if err := p.SwitchModel("claude-3"); err != nil {
		t.Fatalf("model resolution failed: %v", err)
	}
	if got := p.CurrentIndex(); got != 1 {
		t.Fatalf("expected index 1 after model match, got %d", got)
	}

	if err := p.SwitchModel("nonexistent"); err == nil {
		t.Fatal("expected error for unresolvable key")
	}
}
