package sessionmgr

import (
	"strconv"
	"time"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// CompactWithSummary replaces the oldest messages with a single system
// summary message, always preserving at least tailSize of the most recent
// non-system messages verbatim and the tool-pairing invariant across the
// new boundary. tailSize below defaultCompactTailSize is raised to it.
// instruction, if non-empty, is passed through to the installed
// BeforeCompactHook to steer what the summary emphasizes.
func (m *Manager) CompactWithSummary(id string, tailSize int, instruction string) error {
	if tailSize < defaultCompactTailSize {
		tailSize = defaultCompactTailSize
	}

	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return err
	}
	defer e.mu.Unlock()

	msgs := e.record.Messages
	if len(msgs) <= tailSize {
		return nil
	}

	split := len(msgs) - tailSize
	// Walk the split point backward past any leading tool messages in the
	// tail, so we never orphan a tool result from its requesting assistant
	// message by cutting between them.
	for split > 0 && msgs[split].Role == models.RoleTool {
		split--
	}

	prefix := msgs[:split]
	tail := msgs[split:]
	if len(prefix) == 0 {
		return nil
	}

	m.hookMu.Lock()
	hook := m.hook
	m.hookMu.Unlock()

	summary := defaultSummary(prefix)
	if hook != nil {
		if s := hook(id, prefix, instruction); s != "" {
			summary = s
		}
	}

	newMsgs := make([]models.Message, 0, len(tail)+1)
	newMsgs = append(newMsgs, models.Message{
		Role:      models.RoleSystem,
		Content:   summary,
		CreatedAt: time.Now(),
	})
	newMsgs = append(newMsgs, tail...)
	newMsgs = repairToolPairs(newMsgs)

	e.record.Messages = newMsgs
	e.record.Session.MessageCount = len(newMsgs)
	e.record.Session.UpdatedAt = time.Now()
	return m.store.Save(e.record)
}

// defaultSummary is the fallback summarizer used when no BeforeCompactHook
// is installed: a terse count-based placeholder rather than an actual
// condensation, since summarizing is an LLM-backed operation the caller
// supplies via the hook.
func defaultSummary(prefix []models.Message) string {
	return "Earlier conversation summary unavailable; " +
		strconv.Itoa(len(prefix)) + " older messages were compacted."
}
