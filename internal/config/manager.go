package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// maskedPlaceholder is the literal value a config PUT uses to mean
// "leave this leaf unchanged".
const maskedPlaceholder = "***"

// maskedKeys are leaves that GetMasked replaces with maskedPlaceholder.
// Listed explicitly rather than inferred from key name patterns, so a
// field named e.g. "token_limit" is never accidentally masked.
var maskedKeys = map[string]bool{
	"api_key": true,
	"token":   true,
}

// Subscriber is notified with the newly-active config after a successful
// Update or Reload.
type Subscriber func(*Config)

// Manager owns the live configuration document: the in-memory typed
// Config (read via Get, hot-swapped atomically), the raw YAML-shaped map
// merge Updates operate over, and the on-disk path both are kept in sync
// with. Updates go through validate -> atomic swap -> broadcast.
type Manager struct {
	path string

	mu  sync.Mutex // serializes Update/Reload and guards raw; Get is lock-free
	raw map[string]any

	current atomic.Pointer[Config]

	subMu sync.Mutex
	subs  []Subscriber
}

// NewManager loads path and returns a Manager tracking it.
func NewManager(path string) (*Manager, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	m := &Manager{path: path, raw: raw}
	m.current.Store(cfg)
	return m, nil
}

// Get returns the currently active configuration. The returned value must
// not be mutated by callers; it is shared with other readers.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Subscribe registers fn to be called after every successful Update or
// Reload, used by the gateway to broadcast data_update{resource:"config"}.
func (m *Manager) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Manager) notify(cfg *Config) {
	m.subMu.Lock()
	subs := make([]Subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
}

// GetMasked returns the current config as a generic map with every key in
// maskedKeys replaced by "***", for the safe (non-"/full") read route.
func (m *Manager) GetMasked() (map[string]any, error) {
	m.mu.Lock()
	raw := cloneRawMap(m.raw)
	m.mu.Unlock()

	masked := maskLeaves(raw)
	out, ok := masked.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return out, nil
}

func maskLeaves(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if maskedKeys[k] {
				if s, ok := inner.(string); ok && s != "" {
					out[k] = maskedPlaceholder
					continue
				}
			}
			out[k] = maskLeaves(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = maskLeaves(inner)
		}
		return out
	default:
		return v
	}
}

// Update applies patch as a recursive merge over the current document:
//  1. any leaf in patch literally equal to "***" is dropped (interpreted
//     as "unchanged") before the merge,
//  2. the merged document is schema-validated (strict decode + Validate),
//  3. written atomically to disk,
//  4. swapped into the live pointer,
//  5. broadcast to subscribers.
func (m *Manager) Update(patch map[string]any) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stripped := stripMasked(cloneRawMap(m.raw), patch)
	merged := mergeMaps(cloneRawMap(m.raw), stripped)

	cfg, err := decodeRawConfig(merged)
	if err != nil {
		return nil, fmt.Errorf("validate config update: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config update: %w", err)
	}

	if err := writeRawYAML(m.path, merged); err != nil {
		return nil, fmt.Errorf("persist config: %w", err)
	}

	m.raw = merged
	m.current.Store(cfg)
	m.notify(cfg)
	return cfg, nil
}

// Reload re-reads the on-disk document (e.g. on an fsnotify write event)
// and swaps it in if it still validates, broadcasting to subscribers.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := LoadRaw(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	m.raw = raw
	m.current.Store(cfg)
	m.notify(cfg)
	return cfg, nil
}

// stripMasked removes from patch (recursively) any leaf whose value is
// literally "***", since that means "leave the existing value alone".
// existing is consulted only to recurse into matching nested maps.
func stripMasked(existing, patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		if s, ok := v.(string); ok && s == maskedPlaceholder {
			continue
		}
		if nestedPatch, ok := v.(map[string]any); ok {
			nestedExisting, _ := existing[k].(map[string]any)
			stripped := stripMasked(nestedExisting, nestedPatch)
			if len(stripped) == 0 {
				continue
			}
			out[k] = stripped
			continue
		}
		out[k] = v
	}
	return out
}

func cloneRawMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneRawMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func writeRawYAML(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate applies semantic checks beyond strict-field YAML decoding:
// enum-shaped fields that yaml.v3 cannot validate on its own.
func Validate(cfg *Config) error {
	switch cfg.Gateway.Auth.Mode {
	case "", "none", "token":
	default:
		return fmt.Errorf("gateway.auth.mode: must be \"none\" or \"token\", got %q", cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.Auth.Mode == "token" && cfg.Gateway.Auth.Token == "" {
		return fmt.Errorf("gateway.auth.mode is \"token\" but gateway.auth.token is empty")
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port: out of range: %d", cfg.Gateway.Port)
	}
	for i, p := range cfg.Agent.Providers {
		if p.Name == "" {
			return fmt.Errorf("agent.providers[%d]: name is required", i)
		}
		if p.APIBase == "" {
			return fmt.Errorf("agent.providers[%d]: api_base is required", i)
		}
	}
	return nil
}
