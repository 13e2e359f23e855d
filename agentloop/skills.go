package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

// SkillFileName is the file that defines a skill inside its directory.
const SkillFileName = "SKILL.md"

// SkillsPlaceholder marks where the skill list goes in a system prompt.
const SkillsPlaceholder = "{SKILLS_METADATA}"

// ErrNoFrontmatter is returned for a SKILL.md without a leading YAML block.
var ErrNoFrontmatter = errors.New("missing YAML frontmatter")

// Skill is a set of instructions loaded from a SKILL.md file. Only Name and
// Description go into the system prompt; Content is served by get_skill.
type Skill struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	License      string            `yaml:"license"`
	AllowedTools []string          `yaml:"allowed-tools"`
	Metadata     map[string]string `yaml:"metadata"`

	Content string `yaml:"-"`
	Path    string `yaml:"-"`
}

// Dir returns the directory holding the skill's files.
func (s *Skill) Dir() string { return filepath.Dir(s.Path) }

// Prompt renders the full skill as returned to the model.
func (s *Skill) Prompt() string {
	return fmt.Sprintf("# Skill: %s\n\n%s\n\n**Skill Root Directory:** `%s`\n\n"+
		"All files and references in this skill are relative to this directory.\n\n---\n\n%s\n",
		s.Name, s.Description, s.Dir(), s.Content)
}

// LoadSkill parses the SKILL.md at path. Name and description are required.
// Relative references in the body that exist on disk are rewritten to
// absolute paths so the model can open them from any working directory.
func LoadSkill(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n") + "\n"

	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		return nil, ErrNoFrontmatter
	}
	front, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, ErrNoFrontmatter
	}

	var skill Skill
	if err := yaml.Unmarshal([]byte(front), &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if skill.Name == "" || skill.Description == "" {
		return nil, errors.New("frontmatter requires name and description")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	skill.Path = abs
	skill.Content = expandSkillPaths(strings.TrimSpace(body), skill.Dir())
	return &skill, nil
}

var (
	// `scripts/run.py` or python scripts/run.py
	skillDirRef = regexp2.MustCompile("(python\\s+|`)((?:scripts|examples|templates|reference)/[^\\s`\\)]+)", regexp2.None)
	// see forms.md.
	skillDocRef = regexp2.MustCompile(`(see|read|refer to|check)\s+([a-zA-Z0-9_-]+\.(?:md|txt|json|yaml))([.,;\s])`, regexp2.IgnoreCase)
	// Read [guide](./reference/guide.md)
	skillLinkRef = regexp2.MustCompile("(?:(Read|See|Check|Refer to|Load|View)\\s+)?\\[(`?[^`\\]]+`?)\\]\\(((?:\\./)?[^)]+\\.(?:md|txt|json|yaml|js|py|html))\\)", regexp2.IgnoreCase)
)

func expandSkillPaths(content, dir string) string {
	exists := func(rel string) (string, bool) {
		p := filepath.Join(dir, strings.TrimPrefix(rel, "./"))
		_, err := os.Stat(p)
		return p, err == nil
	}
	replace := func(re *regexp2.Regexp, input string, fn func(m regexp2.Match) string) string {
		out, err := re.ReplaceFunc(input, fn, -1, -1)
		if err != nil {
			return input
		}
		return out
	}
	group := func(m regexp2.Match, i int) string { return m.GroupByNumber(i).String() }

	content = replace(skillDirRef, content, func(m regexp2.Match) string {
		if p, ok := exists(group(m, 2)); ok {
			return group(m, 1) + p
		}
		return m.String()
	})
	content = replace(skillDocRef, content, func(m regexp2.Match) string {
		if p, ok := exists(group(m, 2)); ok {
			return fmt.Sprintf("%s `%s` (use read_file to access)%s", group(m, 1), p, group(m, 3))
		}
		return m.String()
	})
	content = replace(skillLinkRef, content, func(m regexp2.Match) string {
		p, ok := exists(group(m, 3))
		if !ok {
			return m.String()
		}
		prefix := ""
		if word := group(m, 1); word != "" {
			prefix = word + " "
		}
		return fmt.Sprintf("%s[%s](`%s`) (use read_file to access)", prefix, group(m, 2), p)
	})
	return content
}

// SkillLoader discovers skills below a directory and serves them by name.
type SkillLoader struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Skill
}

// NewSkillLoader creates a loader for dir. Nothing is read until Discover.
func NewSkillLoader(dir string, logger *slog.Logger) *SkillLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkillLoader{dir: dir, logger: logger, skills: make(map[string]*Skill)}
}

// Discover loads every SKILL.md below the directory. Files that fail to
// parse are logged and skipped; a missing directory yields no skills. A
// later file with an already loaded name replaces the earlier one.
func (l *SkillLoader) Discover() ([]*Skill, error) {
	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("skills directory does not exist", "dir", l.dir)
		return nil, nil
	}

	var found []*Skill
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != SkillFileName {
			return nil
		}
		skill, err := LoadSkill(path)
		if err != nil {
			l.logger.Warn("skipping skill", "path", path, "error", err)
			return nil
		}
		found = append(found, skill)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover skills in %s: %w", l.dir, err)
	}

	l.mu.Lock()
	for _, s := range found {
		l.skills[s.Name] = s
	}
	l.mu.Unlock()
	return found, nil
}

// Get returns the loaded skill called name.
func (l *SkillLoader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// Names returns the loaded skill names in sorted order.
func (l *SkillLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.skills))
	for name := range l.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetadataPrompt lists each skill's name and description for the system
// prompt. It is empty when no skills are loaded.
func (l *SkillLoader) MetadataPrompt() string {
	names := l.Names()
	if len(names) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Skills\n\n")
	sb.WriteString("You have access to specialized skills. Each skill provides expert guidance for specific tasks.\n")
	sb.WriteString("Load a skill's full content with the get_skill tool when it is relevant.\n")
	for _, name := range names {
		s, _ := l.Get(name)
		fmt.Fprintf(&sb, "\n- `%s`: %s", s.Name, s.Description)
	}
	return sb.String()
}

// InjectSkills puts metadata in place of SkillsPlaceholder. A prompt without
// the placeholder gets the metadata appended.
func InjectSkills(prompt, metadata string) string {
	if strings.Contains(prompt, SkillsPlaceholder) {
		return strings.TrimSpace(strings.ReplaceAll(prompt, SkillsPlaceholder, metadata))
	}
	if metadata == "" {
		return prompt
	}
	return prompt + "\n\n" + metadata
}

// RegisterSkillTools registers get_skill backed by loader.
func RegisterSkillTools(reg *ToolRegistry, loader *SkillLoader) {
	reg.Register(newGetSkillTool(loader))
}

type getSkillArgs struct {
	SkillName string `json:"skill_name" jsonschema:"required,description=Name of the skill to load as listed under Available Skills" validate:"required"`
}

func newGetSkillTool(loader *SkillLoader) Tool {
	return NewTypedTool("get_skill",
		"Load the full content and guidance of a skill. Use it before a task that one of the "+
			"available skills covers.",
		func(_ context.Context, args getSkillArgs) (ToolResult, error) {
			skill, ok := loader.Get(args.SkillName)
			if !ok {
				return Fail("Skill '%s' does not exist. Available skills: %s",
					args.SkillName, strings.Join(loader.Names(), ", ")), nil
			}
			return OK(skill.Prompt()), nil
		})
}
