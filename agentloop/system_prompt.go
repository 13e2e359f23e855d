package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// DefaultSystemPrompt is used when no prompt file is configured.
const DefaultSystemPrompt = `You are Mini-Agent, a versatile AI assistant that completes tasks by using tools.

## Core Capabilities
- Read, write and edit files in the workspace.
- Run shell commands, in the foreground or in the background.
- Record and recall notes that persist across sessions.

## Working Guidelines
1. Break complex tasks into clear steps and execute them one at a time.
2. Inspect files before modifying them, and verify the result afterwards.
3. When a tool fails, read the error and adjust instead of repeating the same call.
4. Keep the user informed with short summaries of what you did.`

// workspaceMarker is the heading that marks an existing workspace section.
const workspaceMarker = "Current Workspace"

// WithWorkspaceSection appends a workspace section to prompt unless it already
// mentions one.
func WithWorkspaceSection(prompt, workspaceDir string) string {
	if strings.Contains(prompt, workspaceMarker) {
		return prompt
	}
	return prompt + fmt.Sprintf("\n\n## %s\nYou are currently working in: `%s`\nAll relative paths are resolved against this directory.", workspaceMarker, workspaceDir)
}

// LoadSystemPrompt reads the prompt file at path. A missing or empty file
// yields DefaultSystemPrompt.
func LoadSystemPrompt(path string) string {
	if path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSystemPrompt
	}
	if prompt := strings.TrimSpace(string(data)); prompt != "" {
		return prompt
	}
	return DefaultSystemPrompt
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()
	gitBranch := ""
	isGitRepo := isGitRepository(workingDir)
	if isGitRepo {
		gitBranch = getGitBranch(workingDir)
	}

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if gitBranch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", gitBranch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md files found between the git root (or
// workingDir) and workingDir, capped at 32KB in total.
func DiscoverProjectDocs(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	totalBytes := 0
	for _, dir := range collectPathHierarchy(root, workingDir) {
		path := filepath.Join(dir, "AGENTS.md")
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		remaining := maxProjectDocBytes - totalBytes
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# AGENTS.md (from %s)\n\n%s", dir, text))
		totalBytes += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// BuildSystemPrompt assembles base, the environment block and any project
// docs into one prompt. The workspace section is added later by NewAgent.
func BuildSystemPrompt(base string, env ExecutionEnvironment, model string) string {
	parts := []string{base}
	if env != nil {
		parts = append(parts, BuildEnvironmentContext(env, model))
		if docs := DiscoverProjectDocs(env.WorkingDirectory()); docs != "" {
			parts = append(parts, docs)
		}
	}
	return strings.Join(parts, "\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if root == target {
		return []string{root}
	}

	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--is-inside-work-tree")) == "true"
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--show-toplevel"))
}

func getGitBranch(dir string) string {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--abbrev-ref", "HEAD"))
}

func runGitCommand(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
