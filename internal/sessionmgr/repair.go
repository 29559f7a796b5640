package sessionmgr

import "github.com/haasonsaas/agentgate/pkg/models"

// repairToolPairs drops any tool message whose tool_call_id is not among
// the tool_calls of the most recently seen assistant message, and clears
// the live set whenever a user message intervenes — matching the pairing
// invariant: a tool message is only valid immediately (modulo other tool
// messages) after the assistant message that requested it, with no user
// turn in between.
func repairToolPairs(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	liveIDs := map[string]bool{}

	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleAssistant:
			liveIDs = map[string]bool{}
			for _, tc := range msg.ToolCalls {
				liveIDs[tc.ID] = true
			}
			out = append(out, msg)
		case models.RoleUser:
			liveIDs = map[string]bool{}
			out = append(out, msg)
		case models.RoleTool:
			if liveIDs[msg.ToolCallID] {
				out = append(out, msg)
			}
		default:
			out = append(out, msg)
		}
	}
	return out
}
