package config

// CompletionConfig defines the CLI completion tool the engine and the phase
// gate shell out to.
type CompletionConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g., "claude")
	Args    []string `json:"args,omitempty"` // Default args appended to every invocation
}

// RoleConfig defines per-role behavior. Keys in the Roles map are the role
// names: MAESTRO, SENTINEL, ARCHITECTON, PIXEL.
type RoleConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// QueueConfig tunes the queue manager's polling loop.
type QueueConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"` // Drain cadence
	MaxAttempts         int `json:"max_attempts,omitempty"`          // Default retry budget per entry
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	Concurrency int `json:"concurrency,omitempty"` // Parallel executions per orchestration run
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path,omitempty"`
}

// ConductorConfig is the top-level configuration.
type ConductorConfig struct {
	Completion CompletionConfig      `json:"completion"`
	Roles      map[string]RoleConfig `json:"roles"`
	Queue      QueueConfig           `json:"queue"`
	Engine     EngineConfig          `json:"engine"`
	Store      StoreConfig           `json:"store"`
}
