package agentloop

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/agentgate/internal/toolregistry"
)

// SystemPromptInputs carries everything buildSystemPrompt needs besides the
// session view's deferred catalog, which it fetches itself.
type SystemPromptInputs struct {
	ConfiguredPrompt string
	Env              EnvironmentInfo
	SessionID        string
	Elevated         bool
	SkillsBlock      string
	MemoryBlock      string
}

// buildSystemPrompt assembles the system prompt in a fixed order —
// configured prompt, environment, session, tool catalog, skills, memory —
// joining each non-empty block with a blank line.
func buildSystemPrompt(in SystemPromptInputs, view *toolregistry.View) string {
	blocks := make([]string, 0, 6)

	if in.ConfiguredPrompt != "" {
		blocks = append(blocks, in.ConfiguredPrompt)
	}
	blocks = append(blocks, environmentBlock(in.Env))
	blocks = append(blocks, sessionBlock(in.SessionID, in.Elevated))

	if catalog := toolCatalogBlock(view); catalog != "" {
		blocks = append(blocks, catalog)
	}
	if in.SkillsBlock != "" {
		blocks = append(blocks, in.SkillsBlock)
	}
	if in.MemoryBlock != "" {
		blocks = append(blocks, in.MemoryBlock)
	}

	return strings.Join(blocks, "\n\n")
}

func environmentBlock(env EnvironmentInfo) string {
	return fmt.Sprintf(
		"Current environment:\n- Date: %s, %s %d, %d\n- Local time: %s\n- Platform: %s\n- Working directory: %s\n- Runtime: %s",
		env.Now.Weekday(), env.Now.Month(), env.Now.Day(), env.Now.Year(),
		env.Now.Format("15:04:05 MST"),
		env.Platform,
		env.WorkingDir,
		env.RuntimeVersion,
	)
}

func sessionBlock(sessionID string, elevated bool) string {
	status := "no"
	if elevated {
		status = "yes"
	}
	return fmt.Sprintf("Session: %s\nElevated: %s", sessionID, status)
}

func toolCatalogBlock(view *toolregistry.View) string {
	catalog := view.GetDeferredCatalog()
	if len(catalog) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Additional tools are available but not loaded. Call load_tool to activate one, or unload_tool to free one you no longer need:\n")
	for _, entry := range catalog {
		if len(entry.Actions) > 0 {
			fmt.Fprintf(&b, "- %s: %s (actions: %s)\n", entry.Tool.Name(), entry.Summary, strings.Join(entry.Actions, ", "))
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", entry.Tool.Name(), entry.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
