package app

import (
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/getsentry/sentry-go"
)

// Notifier surfaces fatal or user-actionable errors.
type Notifier interface {
	Notify(title, message string)
	Report(err error)
}

// DesktopNotifier shows desktop notifications and, when Sentry has been
// initialized, reports errors there too.
type DesktopNotifier struct {
	Desktop bool
	Sentry  bool
}

// Notify shows a desktop notification.
func (n DesktopNotifier) Notify(title, message string) {
	if !n.Desktop {
		return
	}
	if err := beeep.Notify(title, message, ""); err != nil {
		slog.Warn("desktop notification failed", "error", err)
	}
}

// Report sends err to Sentry.
func (n DesktopNotifier) Report(err error) {
	if n.Sentry {
		sentry.CaptureException(err)
	}
}

// InitSentry configures error reporting. The returned func flushes pending
// events and should run before exit.
func InitSentry(dsn, release, environment string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Release:     release,
		Environment: environment,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}
func (nopNotifier) Report(error)          {}
