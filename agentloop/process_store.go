package agentloop

import (
	"bufio"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
)

// ProcessStatus represents the lifecycle state of a background process.
type ProcessStatus string

const (
	ProcessRunning    ProcessStatus = "running"
	ProcessCompleted  ProcessStatus = "completed"
	ProcessFailed     ProcessStatus = "failed"
	ProcessTerminated ProcessStatus = "terminated"
	ProcessError      ProcessStatus = "error"
)

// ErrProcessNotFound is returned for unknown handles.
var ErrProcessNotFound = errors.New("process not found")

// BackgroundProcess tracks one command started with run_in_background.
// Stdout and stderr are merged into a single line buffer.
type BackgroundProcess struct {
	ID        string
	Command   string
	StartedAt time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	lines    []string
	readIdx  int
	status   ProcessStatus
	exitCode *int
	mu       sync.Mutex
}

// Status returns the current state.
func (p *BackgroundProcess) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ExitCode returns the exit code once the process has finished.
func (p *BackgroundProcess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode == nil {
		return 0, false
	}
	return *p.exitCode, true
}

// Done is closed when the process has exited and its output is drained.
func (p *BackgroundProcess) Done() <-chan struct{} { return p.done }

// ReadNew returns the lines produced since the previous read. A non-empty
// filter keeps only matching lines; the others are consumed anyway. An
// invalid filter is ignored.
func (p *BackgroundProcess) ReadNew(filter string) []string {
	p.mu.Lock()
	fresh := append([]string(nil), p.lines[p.readIdx:]...)
	p.readIdx = len(p.lines)
	p.mu.Unlock()

	if filter == "" {
		return fresh
	}
	re, err := regexp2.Compile(filter, regexp2.None)
	if err != nil {
		return fresh
	}
	kept := fresh[:0]
	for _, line := range fresh {
		if ok, err := re.MatchString(line); err == nil && ok {
			kept = append(kept, line)
		}
	}
	return kept
}

func (p *BackgroundProcess) appendLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
}

func (p *BackgroundProcess) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exited := p.cmd != nil && p.cmd.ProcessState != nil
	code := -1
	if exited {
		code = p.cmd.ProcessState.ExitCode()
	} else if err == nil {
		code = 0
	}
	p.exitCode = &code

	switch {
	case p.status == ProcessTerminated:
	case err != nil && !exited:
		p.status = ProcessError
		p.lines = append(p.lines, fmt.Sprintf("monitor error: %v", err))
	case code == 0:
		p.status = ProcessCompleted
	default:
		p.status = ProcessFailed
	}
}

// ProcessStore is a handle-keyed table of background processes shared by the
// bash tools of one agent.
type ProcessStore struct {
	procs          map[string]*BackgroundProcess
	terminateGrace time.Duration
	mu             sync.RWMutex
}

// NewProcessStore creates an empty store.
func NewProcessStore() *ProcessStore {
	return &ProcessStore{
		procs:          make(map[string]*BackgroundProcess),
		terminateGrace: 5 * time.Second,
	}
}

// Start launches command in env and registers it under a new handle.
func (s *ProcessStore) Start(env ExecutionEnvironment, command string) (*BackgroundProcess, error) {
	cmd := env.Command(command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open output pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start background command: %w", err)
	}

	p := &BackgroundProcess{
		ID:        uuid.New().String()[:8],
		Command:   command,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
		status:    ProcessRunning,
	}
	s.Register(p)

	go func() {
		defer close(p.done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			p.appendLine(scanner.Text())
		}
		p.finish(cmd.Wait())
	}()

	return p, nil
}

// Register adds p to the store under p.ID.
func (s *ProcessStore) Register(p *BackgroundProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[p.ID] = p
}

// Get returns the process for id, or nil.
func (s *ProcessStore) Get(id string) *BackgroundProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.procs[id]
}

// IDs returns the known handles in sorted order.
func (s *ProcessStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove forgets id without signalling the process.
func (s *ProcessStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, id)
}

// Terminate sends SIGTERM to the process group, escalates to SIGKILL after
// the grace period, and removes the handle.
func (s *ProcessStore) Terminate(id string) (*BackgroundProcess, error) {
	p := s.Get(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}

	select {
	case <-p.done:
	default:
		p.mu.Lock()
		p.status = ProcessTerminated
		p.mu.Unlock()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-p.done:
			case <-time.After(s.terminateGrace):
				_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
				<-p.done
			}
		}
	}

	s.Remove(id)
	return p, nil
}

// TerminateAll stops every process in the store.
func (s *ProcessStore) TerminateAll() {
	for _, id := range s.IDs() {
		_, _ = s.Terminate(id)
	}
}
