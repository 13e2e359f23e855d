package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MemoryFileName is the notes file kept in the workspace.
const MemoryFileName = ".agent_memory.json"

// Note is one entry recorded by record_note.
type Note struct {
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
	Content   string `json:"content"`
}

// NoteBook persists notes as a JSON array. The file is created lazily on
// the first write.
type NoteBook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewNoteBook stores notes at path.
func NewNoteBook(path string) *NoteBook {
	return &NoteBook{path: path, now: time.Now}
}

func (n *NoteBook) load() ([]Note, error) {
	data, err := os.ReadFile(n.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var notes []Note
	if err := json.Unmarshal(data, &notes); err != nil {
		// A corrupt file starts a fresh notebook.
		return nil, nil
	}
	return notes, nil
}

// Record appends a note.
func (n *NoteBook) Record(content, category string) (Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	notes, err := n.load()
	if err != nil {
		return Note{}, err
	}
	note := Note{
		Timestamp: n.now().Format(time.RFC3339),
		Category:  category,
		Content:   content,
	}
	notes = append(notes, note)

	data, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return Note{}, err
	}
	if err := os.MkdirAll(filepath.Dir(n.path), 0755); err != nil {
		return Note{}, err
	}
	if err := os.WriteFile(n.path, data, 0644); err != nil {
		return Note{}, err
	}
	return note, nil
}

// Recall returns all notes, or only those in category when it is set.
func (n *NoteBook) Recall(category string) ([]Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	notes, err := n.load()
	if err != nil {
		return nil, err
	}
	if category == "" {
		return notes, nil
	}
	return lo.Filter(notes, func(note Note, _ int) bool { return note.Category == category }), nil
}

// RegisterNoteTools registers record_note and recall_notes backed by book.
func RegisterNoteTools(reg *ToolRegistry, book *NoteBook) {
	reg.Register(newRecordNoteTool(book))
	reg.Register(newRecallNotesTool(book))
}

type recordNoteArgs struct {
	Content  string `json:"content" jsonschema:"required,description=The information to record; be concise but specific" validate:"required"`
	Category string `json:"category,omitempty" jsonschema:"description=Optional category such as user_preference or project_info or decision"`
}

func newRecordNoteTool(book *NoteBook) Tool {
	return NewTypedTool("record_note",
		"Record important information as a session note for later reference. Use it for key "+
			"facts, user preferences, decisions or context that must be recalled later in the "+
			"run. Every note is timestamped.",
		func(_ context.Context, args recordNoteArgs) (ToolResult, error) {
			category := args.Category
			if category == "" {
				category = "general"
			}
			if _, err := book.Record(args.Content, category); err != nil {
				return Fail("Failed to record note: %v", err), nil
			}
			return OK(fmt.Sprintf("Recorded note: %s (category: %s)", args.Content, category)), nil
		})
}

type recallNotesArgs struct {
	Category string `json:"category,omitempty" jsonschema:"description=Optional category filter"`
}

func newRecallNotesTool(book *NoteBook) Tool {
	return NewTypedTool("recall_notes",
		"Recall all previously recorded session notes, optionally filtered by category.",
		func(_ context.Context, args recallNotesArgs) (ToolResult, error) {
			notes, err := book.Recall(args.Category)
			if err != nil {
				return Fail("Failed to recall notes: %v", err), nil
			}
			if len(notes) == 0 {
				if args.Category != "" {
					return OK(fmt.Sprintf("No notes found in category: %s", args.Category)), nil
				}
				return OK("No notes recorded yet."), nil
			}

			var sb strings.Builder
			sb.WriteString("Recorded notes:")
			for i, note := range notes {
				fmt.Fprintf(&sb, "\n%d. [%s] %s\n   (recorded at %s)", i+1, note.Category, note.Content, note.Timestamp)
			}
			return OK(sb.String()), nil
		})
}
