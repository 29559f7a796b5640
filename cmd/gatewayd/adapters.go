package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentgate/internal/agentloop"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/providerpool"
	"github.com/haasonsaas/agentgate/internal/scheduler"
	"github.com/haasonsaas/agentgate/internal/sessionmgr"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// loopSchedulerAdapter narrows *agentloop.Loop down to scheduler.AgentRunner.
type loopSchedulerAdapter struct{ loop *agentloop.Loop }

func newSchedulerAdapter(loop *agentloop.Loop) loopSchedulerAdapter {
	return loopSchedulerAdapter{loop: loop}
}

func (a loopSchedulerAdapter) ProcessMessage(ctx context.Context, sessionID, content string) error {
	_, err := a.loop.ProcessMessage(ctx, agentloop.Request{
		SessionID: sessionID,
		Content:   content,
		Mode:      agentloop.ModeNonStreaming,
	})
	return err
}

// loopHeartbeatAdapter narrows *agentloop.Loop down to heartbeat.AgentRunner.
type loopHeartbeatAdapter struct{ loop *agentloop.Loop }

func newHeartbeatAdapter(loop *agentloop.Loop) loopHeartbeatAdapter {
	return loopHeartbeatAdapter{loop: loop}
}

func (a loopHeartbeatAdapter) ProcessMessage(ctx context.Context, sessionID, content string) (string, error) {
	resp, err := a.loop.ProcessMessage(ctx, agentloop.Request{
		SessionID: sessionID,
		Content:   content,
		Mode:      agentloop.ModeNonStreaming,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

const compactionSummaryTimeout = 30 * time.Second

// newCompactionSummarizer builds a sessionmgr.BeforeCompactHook that asks
// pool for an actual condensation of prefix instead of falling back to
// the manager's placeholder. A caller-supplied instruction (from
// "/compact <instr>") is folded into the system prompt steering what the
// summary should emphasize.
func newCompactionSummarizer(pool *providerpool.Pool) sessionmgr.BeforeCompactHook {
	return func(sessionID string, prefix []models.Message, instruction string) string {
		if pool == nil || len(prefix) == 0 {
			return ""
		}

		instr := "Summarize the conversation transcript below concisely, preserving any facts, decisions, or open tasks a later turn would need."
		if instruction != "" {
			instr += " Additional instruction: " + instruction
		}

		var transcript strings.Builder
		for _, m := range prefix {
			if m.Content == "" {
				continue
			}
			fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		}

		wire := []providerpool.WireMessage{
			{Role: models.RoleSystem, Content: instr},
			{Role: models.RoleUser, Content: transcript.String()},
		}

		ctx, cancel := context.WithTimeout(context.Background(), compactionSummaryTimeout)
		defer cancel()

		resp, err := pool.Chat(ctx, providerpool.ChatRequest{Messages: wire})
		if err != nil {
			slog.Default().Warn("compaction summary request failed", "session", sessionID, "error", err)
			return ""
		}
		return resp.Content
	}
}

// cronJobFile is one named job definition read from cron.directory, one
// YAML document per file.
type cronJobFile struct {
	Name          string `yaml:"name"`
	Schedule      string `yaml:"schedule"`
	Prompt        string `yaml:"prompt"`
	TargetSession string `yaml:"target_session"`
}

// loadCronJobs reads every *.yaml file in cfg.Directory and registers it
// with sched, the same directory-of-files discovery pattern used by the
// skills loader's local sources, generalized to this package's flat
// job-file shape.
func loadCronJobs(sched *scheduler.Scheduler, cfg config.CronConfig, logger *slog.Logger) {
	if !cfg.Enabled || cfg.Directory == "" {
		return
	}
	entries, err := os.ReadDir(cfg.Directory)
	if err != nil {
		logger.Warn("cron job directory unreadable", "dir", cfg.Directory, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(cfg.Directory, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cron job file unreadable", "path", path, "error", err)
			continue
		}
		var job cronJobFile
		if err := yaml.Unmarshal(data, &job); err != nil {
			logger.Warn("cron job file invalid", "path", path, "error", err)
			continue
		}
		if err := sched.AddJob(scheduler.Job{
			Name:          job.Name,
			Schedule:      job.Schedule,
			Prompt:        job.Prompt,
			TargetSession: job.TargetSession,
		}); err != nil {
			logger.Warn("cron job registration failed", "path", path, "error", err)
		}
	}
}
