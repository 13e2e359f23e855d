package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

const (
	defaultBashTimeout = 120
	maxBashTimeout     = 600
	readFileMaxTokens  = 32000
)

// RegisterCoreTools registers the file and bash tools. All of them operate
// inside env; background commands are tracked in procs.
func RegisterCoreTools(reg *ToolRegistry, env ExecutionEnvironment, procs *ProcessStore, est *TokenEstimator) {
	RegisterFileTools(reg, env, est)
	RegisterBashTools(reg, env, procs)
}

// RegisterFileTools registers read_file, write_file and edit_file.
func RegisterFileTools(reg *ToolRegistry, env ExecutionEnvironment, est *TokenEstimator) {
	reg.Register(newReadFileTool(env, est))
	reg.Register(newWriteFileTool(env))
	reg.Register(newEditFileTool(env))
}

// RegisterBashTools registers bash, bash_output and bash_kill.
func RegisterBashTools(reg *ToolRegistry, env ExecutionEnvironment, procs *ProcessStore) {
	reg.Register(newBashTool(env, procs))
	reg.Register(newBashOutputTool(procs))
	reg.Register(newBashKillTool(procs))
}

type readFileArgs struct {
	Path   string `json:"path" jsonschema:"required,description=Absolute or workspace-relative path of the file" validate:"required"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=1-based line number to start reading from" validate:"gte=0"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Number of lines to read; use with offset for large files" validate:"gte=0"`
}

func newReadFileTool(env ExecutionEnvironment, est *TokenEstimator) Tool {
	return NewTypedTool("read_file",
		"Read file contents from the filesystem. Output always includes line numbers "+
			"in the format 'LINE_NUMBER|LINE_CONTENT' (1-indexed). Supports reading part of a "+
			"large file by specifying a line offset and limit. Call it several times in a row "+
			"to read different files.",
		func(_ context.Context, args readFileArgs) (ToolResult, error) {
			if !env.FileExists(args.Path) {
				return Fail("File not found: %s", args.Path), nil
			}
			content, err := env.ReadFile(args.Path, args.Offset, args.Limit)
			if err != nil {
				return Fail("%v", err), nil
			}
			return OK(TruncateByTokens(content, readFileMaxTokens, est)), nil
		})
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Absolute or workspace-relative path of the file" validate:"required"`
	Content string `json:"content" jsonschema:"required,description=Complete content to write; replaces any existing content"`
}

func newWriteFileTool(env ExecutionEnvironment) Tool {
	return NewTypedTool("write_file",
		"Write content to a file. The file is completely overwritten. "+
			"Parent directories are created when missing. Prefer edit_file for changes to existing files.",
		func(_ context.Context, args writeFileArgs) (ToolResult, error) {
			if err := env.WriteFile(args.Path, args.Content); err != nil {
				return Fail("%v", err), nil
			}
			return OK(fmt.Sprintf("Successfully wrote %s", env.ResolvePath(args.Path))), nil
		})
}

type editFileArgs struct {
	Path   string `json:"path" jsonschema:"required,description=Absolute or workspace-relative path of the file" validate:"required"`
	OldStr string `json:"old_str" jsonschema:"required,description=Exact text to find; must occur exactly once" validate:"required"`
	NewStr string `json:"new_str" jsonschema:"required,description=Replacement text"`
}

func newEditFileTool(env ExecutionEnvironment) Tool {
	return NewTypedTool("edit_file",
		"Perform an exact string replacement in a file. old_str must match the file "+
			"content exactly, including whitespace, and must be unique in the file. "+
			"Read the file first.",
		func(_ context.Context, args editFileArgs) (ToolResult, error) {
			content, err := env.ReadRaw(args.Path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return Fail("File not found: %s", args.Path), nil
				}
				return Fail("%v", err), nil
			}

			switch count := strings.Count(content, args.OldStr); {
			case count == 0:
				return Fail("Text not found in file: %s", args.OldStr), nil
			case count > 1:
				return Fail("Text found %d times in %s. Include more surrounding context so old_str is unique.", count, args.Path), nil
			}

			updated := strings.Replace(content, args.OldStr, args.NewStr, 1)
			if err := env.WriteFile(args.Path, updated); err != nil {
				return Fail("%v", err), nil
			}
			return OK(fmt.Sprintf("Successfully edited %s", env.ResolvePath(args.Path))), nil
		})
}

type bashArgs struct {
	Command         string `json:"command" jsonschema:"required,description=The bash command to run; quote paths that contain spaces" validate:"required"`
	Timeout         int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds for foreground commands (default 120 and max 600)"`
	RunInBackground bool   `json:"run_in_background,omitempty" jsonschema:"description=Run the command in the background; monitor it with bash_output"`
}

func newBashTool(env ExecutionEnvironment, procs *ProcessStore) Tool {
	return NewTypedTool("bash",
		"Execute a bash command in the foreground or in the background. Use it for terminal "+
			"work such as git, npm or docker, not for file edits. Chain dependent commands with &&. "+
			"Long-running commands such as servers should set run_in_background and are then "+
			"monitored with bash_output and stopped with bash_kill.",
		func(ctx context.Context, args bashArgs) (ToolResult, error) {
			timeout := args.Timeout
			switch {
			case timeout > maxBashTimeout:
				timeout = maxBashTimeout
			case timeout < 1:
				timeout = defaultBashTimeout
			}

			if args.RunInBackground {
				p, err := procs.Start(env, args.Command)
				if err != nil {
					return Fail("%v", err), nil
				}
				return OK(fmt.Sprintf("Command started in background. Use bash_output to monitor (bash_id='%s').\n\nCommand: %s\nBash ID: %s",
					p.ID, args.Command, p.ID)), nil
			}

			result, err := env.ExecCommand(ctx, args.Command, time.Duration(timeout)*time.Second)
			if err != nil {
				return Fail("%v", err), nil
			}
			if result.TimedOut {
				return Fail("Command timed out after %d seconds", timeout), nil
			}
			if result.ExitCode != 0 {
				msg := fmt.Sprintf("Command failed with exit code %d", result.ExitCode)
				if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
					msg += "\n" + stderr
				}
				return ToolResult{Success: false, Content: result.Output(), Error: msg}, nil
			}
			return OK(result.Output()), nil
		})
}

type bashOutputArgs struct {
	BashID    string `json:"bash_id" jsonschema:"required,description=ID of the background shell returned by bash" validate:"required"`
	FilterStr string `json:"filter_str,omitempty" jsonschema:"description=Optional regular expression; only matching lines are returned and the rest are discarded"`
}

func newBashOutputTool(procs *ProcessStore) Tool {
	return NewTypedTool("bash_output",
		"Get output from a running or finished background shell. Only output produced since "+
			"the previous check is returned. Status is one of running, completed, failed, terminated or error.",
		func(_ context.Context, args bashOutputArgs) (ToolResult, error) {
			p := procs.Get(args.BashID)
			if p == nil {
				return Fail("Shell not found: %s. Available: %s", args.BashID, availableIDs(procs)), nil
			}
			lines := p.ReadNew(args.FilterStr)
			return OK(formatProcessOutput(p, lines)), nil
		})
}

type bashKillArgs struct {
	BashID string `json:"bash_id" jsonschema:"required,description=ID of the background shell to terminate" validate:"required"`
}

func newBashKillTool(procs *ProcessStore) Tool {
	return NewTypedTool("bash_kill",
		"Terminate a background shell by ID. Sends SIGTERM first and SIGKILL if needed, "+
			"then returns any remaining output and releases the shell.",
		func(_ context.Context, args bashKillArgs) (ToolResult, error) {
			p := procs.Get(args.BashID)
			if p == nil {
				return Fail("Shell not found: %s. Available: %s", args.BashID, availableIDs(procs)), nil
			}
			remaining := p.ReadNew("")
			if _, err := procs.Terminate(args.BashID); err != nil {
				return Fail("Failed to terminate bash shell: %v", err), nil
			}
			return OK(formatProcessOutput(p, remaining)), nil
		})
}

func availableIDs(procs *ProcessStore) string {
	ids := procs.IDs()
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

func formatProcessOutput(p *BackgroundProcess, lines []string) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(lines, "\n"))
	fmt.Fprintf(&sb, "\n[bash_id]:\n%s\n[status]:\n%s", p.ID, p.Status())
	if code, ok := p.ExitCode(); ok && code != 0 {
		fmt.Fprintf(&sb, "\n[exit_code]:\n%d", code)
	}
	return strings.TrimPrefix(sb.String(), "\n")
}
