// Package player hands a resolved manifest URL to an external media player.
// The contract ends there: no playback control, no IPC.
package player

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// Launcher starts the configured external player with a stream URL.
type Launcher struct {
	player string
	logger *slog.Logger
}

// NewLauncher creates a launcher for the named player binary. An empty name
// falls back to the system URL opener.
func NewLauncher(player string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{player: player, logger: logger}
}

// Play launches the player with the URL as its single argument and waits
// for it to exit. URLs are short-lived, so callers resolve immediately
// before this call.
func (l *Launcher) Play(url string) error {
	command, args := l.resolveCommand()
	args = append(args, url)

	l.logger.Debug("launching media player", "command", command)

	cmd := exec.Command(command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start media player %q: %w", command, err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("media player exited abnormally: %w", err)
	}
	return nil
}

// resolveCommand prefers the configured player when it exists in PATH and
// otherwise falls back to the platform's default URL opener.
func (l *Launcher) resolveCommand() (string, []string) {
	if l.player != "" {
		if path, err := exec.LookPath(l.player); err == nil {
			return path, nil
		}
		l.logger.Warn("configured player not found in PATH; using system opener", "player", l.player)
	}

	switch runtime.GOOS {
	case "windows":
		return "cmd", []string{"/C", "start"}
	case "darwin":
		return "open", nil
	default:
		return "xdg-open", nil
	}
}
