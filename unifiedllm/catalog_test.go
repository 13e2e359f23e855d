package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("MiniMax-M2.5")
	if info == nil {
		t.Fatal("expected to find MiniMax-M2.5")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected provider %q, got %q", "anthropic", info.Provider)
	}
	if !info.SupportsTools {
		t.Error("expected supports_tools = true")
	}

	// By alias.
	info = GetModelInfo("sonnet")
	if info == nil {
		t.Fatal("expected to find model by alias 'sonnet'")
	}
	if info.ID != "claude-sonnet-4-5" {
		t.Errorf("expected id %q, got %q", "claude-sonnet-4-5", info.ID)
	}

	if info := GetModelInfo("nonexistent-model"); info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestListModels(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}

	for _, provider := range []string{"anthropic", "openai", "ollama"} {
		models := ListModels(provider)
		if len(models) == 0 {
			t.Errorf("expected at least one %s model", provider)
		}
		for _, m := range models {
			if m.Provider != provider {
				t.Errorf("expected provider %s, got %q", provider, m.Provider)
			}
		}
	}

	if got := ListModels("unknown"); len(got) != 0 {
		t.Errorf("expected no models for unknown provider, got %d", len(got))
	}
}

func TestGetLatestModel(t *testing.T) {
	if m := GetLatestModel("openai"); m == nil || m.ID != "gpt-4.1" {
		t.Errorf("expected gpt-4.1 as latest openai model, got %v", m)
	}
	if m := GetLatestModel("nonexistent"); m != nil {
		t.Errorf("expected nil for unknown provider, got %v", m)
	}
}

func TestContextWindow(t *testing.T) {
	if got := ContextWindow("gpt-4o", 1000); got != 128000 {
		t.Errorf("expected 128000, got %d", got)
	}
	if got := ContextWindow("mystery", 1000); got != 1000 {
		t.Errorf("expected fallback 1000, got %d", got)
	}
}
