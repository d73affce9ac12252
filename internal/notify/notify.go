package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/rickgao/gpttools-desk/internal/connection"
)

// notifyFunc is swapped out in tests.
var notifyFunc = beeep.Notify

// Log writes status lines and hints to a slog.Logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) OnStatusChange(message string, ok bool) {
	if message == "" {
		return
	}
	l.logger.Info("service status", "status", message, "ok", ok)
}

func (l *Log) OnHint(message string, isError bool) {
	if message == "" {
		return
	}
	if isError {
		l.logger.Warn("service hint", "hint", message)
		return
	}
	l.logger.Info("service hint", "hint", message)
}

// Desktop raises an OS notification for error hints. Status lines and
// informational hints are ignored.
type Desktop struct {
	title  string
	logger *slog.Logger
}

// NewDesktop creates a Desktop notifier. appName is used as the
// notification title and registered with beeep.
func NewDesktop(appName string, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	if appName != "" {
		beeep.AppName = appName
	}
	return &Desktop{title: appName, logger: logger}
}

func (d *Desktop) OnStatusChange(string, bool) {}

func (d *Desktop) OnHint(message string, isError bool) {
	if message == "" || !isError {
		return
	}
	if err := notifyFunc(d.title, message, ""); err != nil {
		d.logger.Debug("desktop notification failed", "error", err)
	}
}

// Multi fans out to every non-nil notifier in order.
type Multi []connection.Notifier

// NewMulti drops nil entries.
func NewMulti(notifiers ...connection.Notifier) Multi {
	m := make(Multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m Multi) OnStatusChange(message string, ok bool) {
	for _, n := range m {
		n.OnStatusChange(message, ok)
	}
}

func (m Multi) OnHint(message string, isError bool) {
	for _, n := range m {
		n.OnHint(message, isError)
	}
}
