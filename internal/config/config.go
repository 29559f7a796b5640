// Package config implements the gateway's configuration document: the
// recognized keys, YAML loading with env-var expansion, deep-merge PUT
// semantics with masked-secret passthrough, and live reload.
package config

// Config is the full recognized configuration document.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sessions SessionsConfig `yaml:"sessions"`
	Memory   MemoryConfig   `yaml:"memory"`
	Skills   SkillsConfig   `yaml:"skills"`
	Cron     CronConfig     `yaml:"cron"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Browser  BrowserConfig  `yaml:"browser"`
	Canvas   CanvasConfig   `yaml:"canvas"`
	TTS      TTSConfig      `yaml:"tts"`
	Channels ChannelsConfig `yaml:"channels"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// AgentConfig seeds the provider pool and the loop's default prompt.
type AgentConfig struct {
	SystemPrompt string           `yaml:"system_prompt"`
	Model        string           `yaml:"model"`
	APIBase      string           `yaml:"api_base"`
	APIKey       string           `yaml:"api_key"`
	MaxTokens    int              `yaml:"max_tokens"`
	Temperature  float64          `yaml:"temperature"`
	Providers    []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one entry of agent.providers[].
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	APIBase     string  `yaml:"api_base"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Priority    int     `yaml:"priority"`
}

// GatewayConfig configures transport, auth, and per-session send pacing.
type GatewayConfig struct {
	Host string     `yaml:"host"`
	Port int        `yaml:"port"`
	Auth AuthConfig `yaml:"auth"`

	// RateLimitPerMinute caps how many turns a single session may submit
	// per minute (via /api/chat or a WS message frame) before requests
	// are rejected with "rate limit exceeded" (HTTP 429 on /api/chat).
	// Zero disables the limiter.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// RateLimitBurst is the token-bucket burst size; Default sets 10, and a
	// value of zero or less is treated as 1.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// AuthConfig selects the gateway's request authentication mode.
type AuthConfig struct {
	Mode  string `yaml:"mode"` // "none" | "token"
	Token string `yaml:"token"`
}

// SessionsConfig configures persistence and context accounting.
type SessionsConfig struct {
	Directory    string `yaml:"directory"`
	ContextLimit int    `yaml:"context_limit"`
}

// MemoryConfig is opaque memory/index configuration the core treats as a
// capability passed through to the memory manager, per the Non-goals.
type MemoryConfig struct {
	Directory       string          `yaml:"directory"`
	SharedDirectory string          `yaml:"shared_directory"`
	Embedding       EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig configures the (non-goal'd, opaque) embedding/BM25 index.
type EmbeddingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Model         string  `yaml:"model"`
	APIBase       string  `yaml:"api_base"`
	APIKey        string  `yaml:"api_key"`
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	VectorWeight  float64 `yaml:"vector_weight"`
	BM25Weight    float64 `yaml:"bm25_weight"`
	TopK          int     `yaml:"top_k"`
}

// SkillsConfig points at the (opaque, non-goal'd) skills directory.
type SkillsConfig struct {
	Directory string `yaml:"directory"`
}

// CronConfig enables the scheduler and points at its job directory.
type CronConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// PluginsConfig enables the (opaque, non-goal'd) plugin sandbox loader.
type PluginsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// BrowserConfig toggles the (opaque) browser-automation capability.
type BrowserConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CanvasConfig toggles the (opaque) canvas capability.
type CanvasConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TTSConfig configures the (opaque) text-to-speech capability.
type TTSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	Voice     string `yaml:"voice"`
	Model     string `yaml:"model"`
	OutputDir string `yaml:"output_dir"`
}

// ChannelsConfig configures (opaque, non-goal'd) channel adapters.
type ChannelsConfig struct {
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig is the one illustrative channel-adapter config block.
type DiscordConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Token      string   `yaml:"token"`
	AllowFrom  []string `yaml:"allow_from"`
}

// WebhooksConfig gates the external-event-to-agent-turn webhook.
type WebhooksConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// ToolsConfig is the registry-wide allow/deny policy.
type ToolsConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Default returns a Config with sane baseline defaults applied before the
// on-disk document is merged in.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			Auth:               AuthConfig{Mode: "none"},
			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
		},
		Sessions: SessionsConfig{
			Directory:    "./data/sessions",
			ContextLimit: 128000,
		},
		Agent: AgentConfig{
			MaxTokens:   4096,
			Temperature: 0.7,
		},
	}
}
