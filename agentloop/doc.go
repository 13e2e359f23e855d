// Package agentloop implements a tool-using agent loop on top of the
// unifiedllm client.
//
// The loop alternates model calls with tool execution until the model answers
// without tool calls, the step budget runs out, the model fails, or the run is
// cancelled. Cancellation is only observed at step boundaries, and an
// interrupted turn is rolled back so the history always ends in a consistent
// state.
//
// # Architecture
//
//   - Agent: owns the Conversation and drives Run.
//   - Conversation: ordered message history whose first entry is the system
//     prompt.
//   - Summarizer: replaces each completed round with a model-written summary
//     once the history grows past the token limit.
//   - TokenEstimator: cl100k_base token counts with a character fallback.
//   - Dispatcher and ToolRegistry: tool lookup, execution and output
//     truncation. Tool failures are values, never panics.
//   - ProcessStore: background shell processes started by the bash tool.
//   - SessionManager: one Agent per session id with exclusive runs.
//
// # Quick Start
//
//	env := agentloop.NewLocalExecutionEnvironment("./workspace")
//	tools := agentloop.NewToolRegistry()
//	agentloop.RegisterCoreTools(tools, env, agentloop.NewProcessStore(), agentloop.NewTokenEstimator())
//
//	agent := agentloop.NewAgent(client, tools, &agentloop.AgentConfig{
//	    SystemPrompt: agentloop.DefaultSystemPrompt,
//	    WorkspaceDir: "./workspace",
//	    MaxSteps:     50,
//	    TokenLimit:   80000,
//	})
//	defer agent.Close()
//
//	agent.AddUserMessage("Create a hello.py file")
//	result := agent.Run(ctx, nil)
//	fmt.Println(result.State, result.Content)
package agentloop
