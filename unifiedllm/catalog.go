package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         int      `json:"max_output"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. Entries are ordered newest first
// within each provider.
var Models = []ModelInfo{
	// Anthropic-compatible endpoints (MiniMax serves the Messages API).
	{
		ID: "MiniMax-M2.5", Provider: "anthropic", DisplayName: "MiniMax M2.5",
		ContextWindow: 204800, MaxOutput: 16384,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"minimax", "minimax-m2.5"},
	},
	{
		ID: "MiniMax-M2", Provider: "anthropic", DisplayName: "MiniMax M2",
		ContextWindow: 204800, MaxOutput: 16384,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"minimax-m2"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 8192,
		SupportsTools: true,
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// OpenAI
	{
		ID: "gpt-4.1", Provider: "openai", DisplayName: "GPT-4.1",
		ContextWindow: 1047576, MaxOutput: 32768,
		SupportsTools: true,
		Aliases: []string{"gpt4.1"},
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: 16384,
		SupportsTools: true,
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, MaxOutput: 16384,
		SupportsTools: true,
		Aliases: []string{"4o-mini"},
	},

	// Local models served through gollm.
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1",
		ContextWindow: 131072, MaxOutput: 4096,
		SupportsTools: true,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first model listed for a provider.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// ContextWindow returns the catalog context window for a model, or
// fallback when the model is unknown.
func ContextWindow(modelID string, fallback int) int {
	if info := GetModelInfo(modelID); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return fallback
}
