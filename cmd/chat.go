package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/xyl2024/Mini-Agent-Web/agentloop"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session in the workspace.

Ctrl-C cancels the running task; at the prompt it exits.
Commands: /clear resets the conversation, /history shows the message count,
/exit quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func runChat(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	client, err := cfg.NewClient(logger)
	if err != nil {
		return err
	}
	agent, err := buildAgent(cfg, client, cfg.WorkspaceDir, logger)
	if err != nil {
		return err
	}
	defer agent.Close()

	out := cmd.OutOrStdout()
	renderer := newEventRenderer(out)

	var running atomic.Bool
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if running.Load() {
				agent.Cancel()
				continue
			}
			fmt.Fprintln(out, "\nGoodbye!")
			agent.Close()
			os.Exit(0)
		}
	}()

	fmt.Fprintf(out, "Model: %s  Workspace: %s\n", cfg.Model, agent.Config().WorkspaceDir)
	fmt.Fprintln(out, "Type /exit to quit, /clear to reset, /history for the message count.")

	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "\nYou > ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		if handled, quit := handleChatCommand(out, agent, line); quit {
			return nil
		} else if handled {
			continue
		}

		agent.AddUserMessage(line)
		running.Store(true)
		res := runTurn(context.Background(), agent, renderer)
		running.Store(false)
		if res.State != agentloop.RunDone {
			logRunEnd(out, res)
		}
	}
}

// handleChatCommand runs slash commands. It reports whether line was a
// command and whether the session should end.
func handleChatCommand(out io.Writer, agent *agentloop.Agent, line string) (handled, quit bool) {
	switch strings.ToLower(line) {
	case "/exit", "/quit", "/q":
		fmt.Fprintln(out, "Goodbye!")
		return true, true
	case "/clear":
		agent.Reset()
		fmt.Fprintln(out, "Conversation cleared.")
		return true, false
	case "/history":
		history := agent.History()
		counts := map[unifiedllm.Role]int{}
		for _, m := range history {
			counts[m.Role]++
		}
		fmt.Fprintf(out, "%d messages (user %d, assistant %d, tool %d)\n",
			len(history), counts[unifiedllm.RoleUser], counts[unifiedllm.RoleAssistant], counts[unifiedllm.RoleTool])
		return true, false
	}
	return false, false
}

// runTurn runs the agent and renders its events until the run ends.
func runTurn(ctx context.Context, agent *agentloop.Agent, renderer *eventRenderer) agentloop.RunResult {
	done := make(chan agentloop.RunResult, 1)
	go func() { done <- agent.Run(ctx, nil) }()

	events := agent.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			renderer.Render(ev)
		case res := <-done:
			drainEvents(events, renderer)
			return res
		}
	}
}

func drainEvents(events <-chan agentloop.Event, renderer *eventRenderer) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			renderer.Render(ev)
		default:
			return
		}
	}
}

func logRunEnd(out io.Writer, res agentloop.RunResult) {
	fmt.Fprintf(out, "[%s after %d steps]\n", res.State, res.Steps)
}
