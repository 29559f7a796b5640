package sessionmgr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(NewMemStore())
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.GetOrCreate("slack", "u1")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.GetOrCreate("slack", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected same session id, got %s and %s", s1.ID, s2.ID)
	}
	if s1.ID != "slack:u1" {
		t.Fatalf("expected id slack:u1, got %s", s1.ID)
	}
}

func TestEstimateTokensEmptySessionIsZero(t *testing.T) {
	if got := EstimateTokens(nil); got != 0 {
		t.Fatalf("expected 0 tokens for empty session, got %d", got)
	}
}

func TestAddMessageThenGetMessagesRoundTrips(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}

	if err := m.AddMessage(id, models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestRepairToolPairsDropsOrphanedToolMessage(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}

	mustAdd(t, m, id, models.Message{Role: models.RoleUser, Content: "do a thing"})
	mustAdd(t, m, id, models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: "call_1", FunctionName: "search", Arguments: json.RawMessage(`{}`)},
		},
	})
	// Orphan: references an id that was never issued.
	mustAdd(t, m, id, models.Message{Role: models.RoleTool, ToolCallID: "call_999", Content: "stale"})
	mustAdd(t, m, id, models.Message{Role: models.RoleTool, ToolCallID: "call_1", Content: "result"})

	if err := m.RepairToolPairs(id); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range msgs {
		if msg.Role == models.RoleTool && msg.ToolCallID == "call_999" {
			t.Fatalf("expected orphaned tool message to be removed, got %+v", msgs)
		}
	}
	found := false
	for _, msg := range msgs {
		if msg.Role == models.RoleTool && msg.ToolCallID == "call_1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected paired tool message to survive, got %+v", msgs)
	}
}

func TestRepairToolPairsClearsOnUserMessage(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}

	mustAdd(t, m, id, models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "call_1", FunctionName: "search"}},
	})
	mustAdd(t, m, id, models.Message{Role: models.RoleUser, Content: "never mind"})
	// This tool message arrives after an intervening user message, so it
	// must be treated as orphaned even though call_1 was once valid.
	mustAdd(t, m, id, models.Message{Role: models.RoleTool, ToolCallID: "call_1", Content: "late result"})

	if err := m.RepairToolPairs(id); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range msgs {
		if msg.Role == models.RoleTool {
			t.Fatalf("expected tool message after intervening user turn to be dropped, got %+v", msgs)
		}
	}
}

func TestCompactWithSummaryPreservesTailAndPairing(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}

	// 30 plain user/assistant turns, then a final assistant+tool pair that
	// must land inside the preserved tail together.
	for i := 0; i < 15; i++ {
		mustAdd(t, m, id, models.Message{Role: models.RoleUser, Content: "q"})
		mustAdd(t, m, id, models.Message{Role: models.RoleAssistant, Content: "a"})
	}
	mustAdd(t, m, id, models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "call_final", FunctionName: "search"}},
	})
	mustAdd(t, m, id, models.Message{Role: models.RoleTool, ToolCallID: "call_final", Content: "result"})

	before, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	wantTail := before[len(before)-defaultCompactTailSize:]

	if err := m.CompactWithSummary(id, defaultCompactTailSize, ""); err != nil {
		t.Fatal(err)
	}

	after, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) < defaultCompactTailSize {
		t.Fatalf("expected at least %d messages after compaction, got %d", defaultCompactTailSize, len(after))
	}
	if after[0].Role != models.RoleSystem {
		t.Fatalf("expected first message after compaction to be a summary, got role %s", after[0].Role)
	}

	gotTail := after[len(after)-len(wantTail):]
	for i := range wantTail {
		if gotTail[i].Content != wantTail[i].Content || gotTail[i].Role != wantTail[i].Role {
			t.Fatalf("tail message %d changed: want %+v got %+v", i, wantTail[i], gotTail[i])
		}
	}

	// Pairing invariant must still hold: the tool message must be preceded
	// (with no intervening user message) by its assistant tool_calls message.
	for i, msg := range after {
		if msg.Role != models.RoleTool {
			continue
		}
		found := false
		for j := i - 1; j >= 0; j-- {
			if after[j].Role == models.RoleUser {
				break
			}
			if after[j].Role == models.RoleAssistant {
				for _, tc := range after[j].ToolCalls {
					if tc.ID == msg.ToolCallID {
						found = true
					}
				}
				break
			}
		}
		if !found {
			t.Fatalf("tool message at %d has no matching assistant tool_calls entry after compaction", i)
		}
	}
}

func TestCompactWithSummaryNoOpBelowTailSize(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, m, id, models.Message{Role: models.RoleUser, Content: "hi"})

	if err := m.CompactWithSummary(id, defaultCompactTailSize, ""); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected no-op compaction to leave single message untouched, got %d", len(msgs))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, m, id, models.Message{Role: models.RoleUser, Content: "hello", CreatedAt: time.Now()})

	rec, err := m.Export(id)
	if err != nil {
		t.Fatal(err)
	}

	m2 := newTestManager(t)
	if err := m2.Import(rec); err != nil {
		t.Fatal(err)
	}
	rec2, err := m2.Export(id)
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.Messages) != len(rec2.Messages) {
		t.Fatalf("message count mismatch: %d vs %d", len(rec.Messages), len(rec2.Messages))
	}
	for i := range rec.Messages {
		if rec.Messages[i].Content != rec2.Messages[i].Content {
			t.Fatalf("message %d content mismatch: %q vs %q", i, rec.Messages[i].Content, rec2.Messages[i].Content)
		}
	}
	if rec.Session.ID != rec2.Session.ID {
		t.Fatalf("session id mismatch: %q vs %q", rec.Session.ID, rec2.Session.ID)
	}
}

func TestDeleteSessionThenGetOrCreateStartsFresh(t *testing.T) {
	m := newTestManager(t)
	id := SessionID("slack", "u1")
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, m, id, models.Message{Role: models.RoleUser, Content: "hi"})

	if err := m.DeleteSession(id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCreate("slack", "u1"); err != nil {
		t.Fatal(err)
	}
	msgs, err := m.GetMessages(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected fresh session after delete, got %d messages", len(msgs))
	}
}

func mustAdd(t *testing.T, m *Manager, id string, msg models.Message) {
	t.Helper()
	if err := m.AddMessage(id, msg); err != nil {
		t.Fatal(err)
	}
}
