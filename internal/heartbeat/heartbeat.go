// Package heartbeat implements a degenerate scheduled job with a fixed
// cadence: on each tick, read HEARTBEAT.md via the memory directory; if
// non-empty, run one elevated agent turn against the main session and
// categorize the result.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Category is the outcome classification for one heartbeat run.
type Category string

const (
	CategoryOKEmpty Category = "ok-empty"
	CategoryOKToken Category = "ok-token"
	CategorySent    Category = "sent"
	CategorySkipped Category = "skipped"
	CategoryFailed  Category = "failed"
)

// sentinelOK is the exact token a heartbeat turn can reply with to mean
// "nothing to report, acknowledged" without counting as a real message.
const sentinelOK = "HEARTBEAT_OK"

// HeartbeatFile is the well-known filename read from the memory directory.
const HeartbeatFile = "HEARTBEAT.md"

// AgentRunner is the capability the heartbeat needs from the Agent Loop.
type AgentRunner interface {
	ProcessMessage(ctx context.Context, sessionID, content string) (string, error)
}

// SessionElevator lets the heartbeat mark the target session elevated for
// the duration of its turn.
type SessionElevator interface {
	SetElevated(sessionID string, elevated bool) error
}

// Activity is one heartbeat outcome, passed to the Runner's event callback.
type Activity struct {
	Timestamp time.Time
	Category  Category
	Detail    string
	Err       error
}

// Config configures the heartbeat's cadence and file location.
type Config struct {
	Enabled       bool
	Interval      time.Duration
	MemoryDir     string
	TargetSession func() string // resolved fresh on every tick (main session may change)
}

// Runner ticks Config.Interval, running one heartbeat check per tick, over
// a ticker+stopCh+doneCh shape generalized from a generic delivery-ack
// protocol to this file-sentinel protocol.
type Runner struct {
	cfg      Config
	runner   AgentRunner
	elevator SessionElevator
	onEvent  func(Activity)

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	lastCat Category
}

// New returns a Runner. onEvent may be nil.
func New(cfg Config, runner AgentRunner, elevator SessionElevator, onEvent func(Activity)) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Runner{cfg: cfg, runner: runner, elevator: elevator, onEvent: onEvent}
}

// Start begins ticking. A no-op if disabled in config or already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if !r.cfg.Enabled || r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.ticker = time.NewTicker(r.cfg.Interval)
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	ticker := r.ticker
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts ticking and waits for any in-flight run to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.ticker.Stop()
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()
	<-doneCh
}

// IsRunning reports whether the ticking loop is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastCategory returns the outcome of the most recently completed run.
func (r *Runner) LastCategory() Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCat
}

// RunOnce executes a single heartbeat check immediately (used by the
// `/heartbeat force`/`now` slash commands as well as the ticking loop).
func (r *Runner) RunOnce(ctx context.Context) Activity {
	act := r.runOnce(ctx)
	r.mu.Lock()
	r.lastCat = act.Category
	r.mu.Unlock()
	if r.onEvent != nil {
		r.onEvent(act)
	}
	return act
}

func (r *Runner) runOnce(ctx context.Context) Activity {
	now := time.Now()

	data, err := os.ReadFile(filepath.Join(r.cfg.MemoryDir, HeartbeatFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Activity{Timestamp: now, Category: CategorySkipped, Detail: "no HEARTBEAT.md"}
		}
		return Activity{Timestamp: now, Category: CategoryFailed, Err: err}
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return Activity{Timestamp: now, Category: CategorySkipped, Detail: "HEARTBEAT.md is empty"}
	}

	target := ""
	if r.cfg.TargetSession != nil {
		target = r.cfg.TargetSession()
	}
	if target == "" {
		return Activity{Timestamp: now, Category: CategorySkipped, Detail: "no main session configured"}
	}

	if r.elevator != nil {
		if err := r.elevator.SetElevated(target, true); err != nil {
			return Activity{Timestamp: now, Category: CategoryFailed, Err: fmt.Errorf("elevate session: %w", err)}
		}
		defer r.elevator.SetElevated(target, false)
	}

	content, err := r.runner.ProcessMessage(ctx, target, prompt)
	if err != nil {
		return Activity{Timestamp: now, Category: CategoryFailed, Err: err}
	}

	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		return Activity{Timestamp: now, Category: CategoryOKEmpty}
	case trimmed == sentinelOK:
		return Activity{Timestamp: now, Category: CategoryOKToken}
	default:
		return Activity{Timestamp: now, Category: CategorySent, Detail: trimmed}
	}
}
