package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/xyl2024/Mini-Agent-Web/agentloop"
	"github.com/xyl2024/Mini-Agent-Web/config"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// newEstimator is swapped in tests to avoid loading the encoding.
var newEstimator = agentloop.NewTokenEstimator

// buildAgent assembles an agent working in workspace with the tool groups
// enabled in cfg. Background processes are terminated when it is closed.
func buildAgent(cfg *config.Config, client agentloop.Completer, workspace string, logger *slog.Logger) (*agentloop.Agent, error) {
	env := agentloop.NewLocalExecutionEnvironment(workspace)
	if err := env.Initialize(); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	est := newEstimator()
	procs := agentloop.NewProcessStore()
	reg := agentloop.NewToolRegistry()
	if cfg.Tools.EnableFileTools {
		agentloop.RegisterFileTools(reg, env, est)
	}
	if cfg.Tools.EnableBash {
		agentloop.RegisterBashTools(reg, env, procs)
	}
	if cfg.Tools.EnableNote {
		book := agentloop.NewNoteBook(filepath.Join(env.WorkingDirectory(), agentloop.MemoryFileName))
		agentloop.RegisterNoteTools(reg, book)
	}
	skills := ""
	if cfg.Tools.EnableSkills {
		loader := agentloop.NewSkillLoader(cfg.ResolveSkillsDir(), logger)
		found, err := loader.Discover()
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			agentloop.RegisterSkillTools(reg, loader)
			skills = loader.MetadataPrompt()
		}
	}

	base := agentloop.InjectSkills(agentloop.LoadSystemPrompt(cfg.ResolveSystemPromptPath()), skills)

	ac := agentloop.DefaultAgentConfig()
	ac.Model = cfg.Model
	ac.Provider = cfg.Provider
	ac.SystemPrompt = agentloop.BuildSystemPrompt(base, env, cfg.Model)
	ac.WorkspaceDir = env.WorkingDirectory()
	ac.MaxSteps = cfg.MaxSteps
	ac.TokenLimit = cfg.TokenLimit
	// Summaries must trigger before the provider rejects the prompt.
	if window := unifiedllm.ContextWindow(cfg.Model, 0); window > 0 && ac.TokenLimit > window*8/10 {
		logger.Warn("token_limit exceeds the model context window, lowering it",
			"token_limit", ac.TokenLimit, "context_window", window)
		ac.TokenLimit = window * 8 / 10
	}

	agent := agentloop.NewAgent(client, reg, &ac)
	agent.SetLogger(logger)
	agent.SetEstimator(est)
	agent.SetRunLogger(agentloop.NewRunLogger(cfg.LogDir))
	agent.OnClose(procs.TerminateAll)

	logger.Debug("agent ready", "workspace", ac.WorkspaceDir, "tools", reg.Names())
	return agent, nil
}

// sessionFactory builds one agent per session, each in its own
// subdirectory of the configured workspace.
func sessionFactory(cfg *config.Config, client agentloop.Completer, logger *slog.Logger) agentloop.AgentFactory {
	return func(sessionID string) (*agentloop.Agent, error) {
		return buildAgent(cfg, client, filepath.Join(cfg.WorkspaceDir, sessionID), logger.With("session_id", sessionID))
	}
}
