package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output renders the result the way the bash tools report it to the model.
func (r ExecResult) Output() string {
	var sb strings.Builder
	sb.WriteString(r.Stdout)
	if r.Stderr != "" {
		fmt.Fprintf(&sb, "\n[stderr]:\n%s", r.Stderr)
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&sb, "\n[exit_code]:\n%d", r.ExitCode)
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}

// ExecutionEnvironment abstracts where tool operations run.
type ExecutionEnvironment interface {
	// File operations. Relative paths resolve against WorkingDirectory.
	ReadFile(path string, offset, limit int) (string, error)
	ReadRaw(path string) (string, error)
	WriteFile(path string, content string) error
	FileExists(path string) bool
	ResolvePath(path string) string

	// Command execution.
	ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)
	Command(command string) *exec.Cmd

	// Lifecycle.
	Initialize() error
	Cleanup() error

	// Metadata.
	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns os.Environ without credentials so commands run
// by the model cannot read the agent's API keys.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalExecutionEnvironment runs tools on the local machine inside a
// workspace directory.
type LocalExecutionEnvironment struct {
	workingDir string
	platform   string
	osVersion  string
}

// NewLocalExecutionEnvironment creates a local execution environment. The
// working directory is made absolute.
func NewLocalExecutionEnvironment(workingDir string) *LocalExecutionEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}
	return &LocalExecutionEnvironment{
		workingDir: workingDir,
		platform:   runtime.GOOS,
		osVersion:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (e *LocalExecutionEnvironment) Initialize() error {
	return os.MkdirAll(e.workingDir, 0755)
}

func (e *LocalExecutionEnvironment) Cleanup() error {
	return nil
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string {
	return e.workingDir
}

func (e *LocalExecutionEnvironment) Platform() string {
	return e.platform
}

func (e *LocalExecutionEnvironment) OSVersion() string {
	return e.osVersion
}

func (e *LocalExecutionEnvironment) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

// ReadFile returns the selected lines formatted as "%6d|content" with
// 1-based line numbers.
func (e *LocalExecutionEnvironment) ReadFile(path string, offset, limit int) (string, error) {
	content, err := e.ReadRaw(path)
	if err != nil {
		return "", err
	}

	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	numbered := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		numbered = append(numbered, fmt.Sprintf("%6d|%s", i+1, strings.TrimSuffix(lines[i], "\n")))
	}
	return strings.Join(numbered, "\n"), nil
}

func (e *LocalExecutionEnvironment) ReadRaw(path string) (string, error) {
	data, err := os.ReadFile(e.ResolvePath(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *LocalExecutionEnvironment) WriteFile(path string, content string) error {
	resolved := e.ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0644)
}

func (e *LocalExecutionEnvironment) FileExists(path string) bool {
	_, err := os.Stat(e.ResolvePath(path))
	return err == nil
}

// Command prepares a shell command in its own process group with the
// filtered environment. The caller starts and waits for it.
func (e *LocalExecutionEnvironment) Command(command string) *exec.Cmd {
	return e.shellCommand(context.Background(), command)
}

func (e *LocalExecutionEnvironment) shellCommand(ctx context.Context, command string) *exec.Cmd {
	shell, shellArg := "/bin/bash", "-c"
	if _, err := os.Stat(shell); err != nil {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = e.workingDir
	cmd.Env = filterEnvironment()
	// Own process group so the whole tree can be signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// ExecCommand runs command in the foreground. On timeout the process group
// is killed and the result is marked TimedOut.
func (e *LocalExecutionEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := e.shellCommand(ctx, command)
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec command: %w", err)
		}
	}

	return result, nil
}
