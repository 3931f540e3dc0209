package watchdog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProcessTable finds running processes by command line
type ProcessTable interface {
	Find(pattern string) ([]int, error)
}

// procTable reads /proc/<pid>/cmdline
type procTable struct {
	root string
	self int
}

// NewProcessTable returns the process table of the local host
func NewProcessTable() ProcessTable {
	return &procTable{root: "/proc", self: os.Getpid()}
}

// Find returns the pids whose command line matches pattern, excluding the
// calling process. See matchArgs for the matching rule.
func (p *procTable) Find(pattern string) ([]int, error) {
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read process table: %w", err)
	}

	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == p.self {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(p.root, entry.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			// exited or kernel thread
			continue
		}
		args := strings.Split(string(bytes.TrimRight(raw, "\x00")), "\x00")
		if matchArgs(args, words) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// matchArgs reports whether every word appears as its own argument, in
// order but not necessarily adjacent. An argument matches a word when it
// equals it or its base name does, so "landscraper run" matches
// "/usr/bin/landscraper --config x.yaml run".
func matchArgs(args, words []string) bool {
	i := 0
	for _, arg := range args {
		if i == len(words) {
			break
		}
		if arg == words[i] || filepath.Base(arg) == words[i] {
			i++
		}
	}
	return i == len(words)
}

// ProcessAlive reports whether pid exists. A process owned by another user
// counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Launcher starts a new orchestrator process
type Launcher interface {
	Launch() (int, error)
}

// ExecLauncher runs the orchestrator binary detached from the watchdog
type ExecLauncher struct {
	Executable string
	Args       []string
	Dir        string
	// StdioPath receives stdout and stderr of the child, appended
	StdioPath string
}

// NewSelfLauncher launches "<current executable> run" with extra args
func NewSelfLauncher(stdioPath string, extraArgs ...string) (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ExecLauncher{
		Executable: exe,
		Args:       append([]string{"run"}, extraArgs...),
		StdioPath:  stdioPath,
	}, nil
}

// Launch starts the process in its own session and returns its pid. The
// child is not waited for.
func (l *ExecLauncher) Launch() (int, error) {
	if dir := filepath.Dir(l.StdioPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	out, err := os.OpenFile(l.StdioPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open stdio log: %w", err)
	}
	defer out.Close()

	fmt.Fprintf(out, "%s launching %s %s\n", time.Now().Format(time.RFC3339), l.Executable, strings.Join(l.Args, " "))

	cmd := exec.Command(l.Executable, l.Args...)
	cmd.Dir = l.Dir
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start orchestrator: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release orchestrator process: %w", err)
	}
	return pid, nil
}
