package config

// DefaultConfig returns the default configuration with built-in role prompts
// and conservative queue and engine settings.
func DefaultConfig() *ConductorConfig {
	return &ConductorConfig{
		Completion: CompletionConfig{
			Command: "claude",
		},
		Roles: map[string]RoleConfig{
			"MAESTRO": {
				SystemPrompt: "You coordinate task planning and delegate work across agents.",
			},
			"SENTINEL": {
				SystemPrompt: "You review completed work for correctness, style, and missing tests.",
			},
			"ARCHITECTON": {
				SystemPrompt: "You implement features and write production code.",
			},
			"PIXEL": {
				SystemPrompt: "You design and implement user-facing layout and styling.",
			},
		},
		Queue: QueueConfig{
			PollIntervalSeconds: 5,
			MaxAttempts:         3,
		},
		Engine: EngineConfig{
			Concurrency: 2,
		},
		Store: StoreConfig{
			Path: ".conductor/conductor.db",
		},
	}
}
