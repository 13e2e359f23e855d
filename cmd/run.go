package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xyl2024/Mini-Agent-Web/agentloop"
)

var taskFlag string

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a single task and exit",
	Long: `Run a single task non-interactively. The task is taken from --task or
from the arguments. The exit status is non-zero unless the task completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		task := taskFlag
		if task == "" {
			task = strings.Join(args, " ")
		}
		if strings.TrimSpace(task) == "" {
			return errors.New("a task is required (use --task or pass it as arguments)")
		}

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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		agent.AddUserMessage(task)
		res := runTurn(ctx, agent, newEventRenderer(cmd.OutOrStdout()))
		if res.State != agentloop.RunDone {
			return fmt.Errorf("task ended with state %s: %s", res.State, res.Content)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&taskFlag, "task", "t", "", "task to run")
}
