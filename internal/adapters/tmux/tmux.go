// Package tmux drives agent sessions through the tmux CLI. It is the only
// implementation of core.SessionRunner; tests substitute fakes at the
// interface.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// Runner shells out to tmux.
type Runner struct {
	binary  string
	timeout time.Duration
}

// NewRunner creates a runner using the tmux binary on PATH.
func NewRunner() *Runner {
	return &Runner{binary: "tmux", timeout: 10 * time.Second}
}

var _ core.SessionRunner = (*Runner)(nil)

func (r *Runner) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout("tmux command timed out")
		}
		return "", fmt.Errorf("tmux %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// NewSession starts a detached session rooted at workDir.
func (r *Runner) NewSession(ctx context.Context, name, workDir string) error {
	if _, err := r.run(ctx, "new-session", "-d", "-s", name, "-c", workDir); err != nil {
		return core.ErrExecution(core.CodeSessionFailed, "creating tmux session").WithCause(err)
	}
	return nil
}

// HasSession reports whether a session with the exact name exists.
func (r *Runner) HasSession(ctx context.Context, name string) (bool, error) {
	// has-session matches name prefixes; use an exact match via =.
	_, err := r.run(ctx, "has-session", "-t", "="+name)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// SendKeys types input into the session without pressing Enter.
func (r *Runner) SendKeys(ctx context.Context, name, input string) error {
	// -l sends the string literally so tmux key names in the payload are
	// not interpreted.
	if _, err := r.run(ctx, "send-keys", "-t", name, "-l", input); err != nil {
		return core.ErrExecution(core.CodeSessionFailed, "sending keys").WithCause(err)
	}
	return nil
}

// SendEnter presses Enter in the session.
func (r *Runner) SendEnter(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "send-keys", "-t", name, "Enter"); err != nil {
		return core.ErrExecution(core.CodeSessionFailed, "sending enter").WithCause(err)
	}
	return nil
}

// CapturePane returns the last lines of the session's scrollback.
func (r *Runner) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	if lines <= 0 {
		lines = 200
	}
	out, err := r.run(ctx, "capture-pane", "-t", name, "-p", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", core.ErrExecution(core.CodeSessionFailed, "capturing pane").WithCause(err)
	}
	return out, nil
}

// KillSession terminates the session; killing a missing session is not an
// error.
func (r *Runner) KillSession(ctx context.Context, name string) error {
	exists, _ := r.HasSession(ctx, name)
	if !exists {
		return nil
	}
	if _, err := r.run(ctx, "kill-session", "-t", "="+name); err != nil {
		return core.ErrExecution(core.CodeSessionFailed, "killing session").WithCause(err)
	}
	return nil
}

// ListSessions returns all session names.
func (r *Runner) ListSessions(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running means no sessions.
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
