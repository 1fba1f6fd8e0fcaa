package delivery

import (
	"log/slog"

	"github.com/go-vgo/robotgo"
)

// Foreground returns the application that currently has focus.
func Foreground() Target {
	pid := robotgo.GetPid()
	name, err := robotgo.FindName(pid)
	if err != nil {
		slog.Debug("foreground app name", "pid", pid, "error", err)
	}
	return Target{App: name, PID: pid, Title: robotgo.GetTitle()}
}
