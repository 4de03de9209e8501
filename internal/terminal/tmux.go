package terminal

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// tmuxAvailable reports whether a tmux binary can be found on PATH.
func tmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// tmuxSessionName derives the per-user shared tmux session name from §4.8:
// "agor-<user-prefix>", where the prefix is the first 8 characters of the
// user id (short enough to stay readable in `tmux list-sessions`, long
// enough that two users practically never collide).
func tmuxSessionName(prefix, userID string) string {
	id := userID
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + id
}

// tmuxWindowName derives a readable per-worktree window name. tmux forbids
// '.' and ':' in window names; they're replaced rather than rejected since
// worktree ids are UUIDs that may contain neither, but session slugs might.
func tmuxWindowName(worktreeID string) string {
	name := strings.NewReplacer(".", "-", ":", "-").Replace(worktreeID)
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

// ensureTmuxWindow creates the shared session (if absent) and a named
// window within it (if absent), returning the `session:window` target
// string PTY attachment should use. Idempotent: re-running against an
// existing session/window is a no-op on tmux's side.
func ensureTmuxWindow(ctx context.Context, session, window, cwd, shell string, cols, rows int) (string, error) {
	target := session + ":" + window

	if !tmuxHasSession(ctx, session) {
		args := []string{"new-session", "-d", "-s", session, "-n", window,
			"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows)}
		if cwd != "" {
			args = append(args, "-c", cwd)
		}
		if shell != "" {
			args = append(args, shell)
		}
		if err := exec.CommandContext(ctx, "tmux", args...).Run(); err != nil {
			return "", err
		}
		return target, nil
	}

	if !tmuxHasWindow(ctx, session, window) {
		args := []string{"new-window", "-t", session, "-n", window, "-P", "-F", "#{window_id}"}
		if cwd != "" {
			args = append(args, "-c", cwd)
		}
		if shell != "" {
			args = append(args, shell)
		}
		if err := exec.CommandContext(ctx, "tmux", args...).Run(); err != nil {
			return "", err
		}
	}

	return target, nil
}

func tmuxHasSession(ctx context.Context, session string) bool {
	return exec.CommandContext(ctx, "tmux", "has-session", "-t", session).Run() == nil
}

func tmuxHasWindow(ctx context.Context, session, window string) bool {
	out, err := exec.CommandContext(ctx, "tmux", "list-windows", "-t", session, "-F", "#{window_name}").Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == window {
			return true
		}
	}
	return false
}

// killTmuxWindow removes a single window, leaving the shared session (and
// its other worktrees' windows) untouched.
func killTmuxWindow(ctx context.Context, session, window string) error {
	return exec.CommandContext(ctx, "tmux", "kill-window", "-t", session+":"+window).Run()
}
