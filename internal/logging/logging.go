package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Component names used as the "component" field, one per concern.
const (
	ComponentSink      = "Kener"
	ComponentFeed      = "UptimeKuma"
	ComponentBridge    = "Bridge"
	ComponentHeartbeat = "Heartbeat"
	ComponentList      = "Heartbeat List"
	ComponentUptime    = "Uptime"
	ComponentCron      = "Cron"
	ComponentOps       = "Ops"
)

type Options struct {
	Debug  bool
	Format string
	Output io.Writer
}

func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}
	logger.SetLevel(logrus.InfoLevel)
	if opts.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.AddHook(utcHook{})
	return logger
}

// Discard returns a logger that drops everything; used as a default by
// constructors when no logger is supplied.
func Discard() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// For scopes logger to a component.
func For(logger logrus.FieldLogger, component string) logrus.FieldLogger {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", component)
}

type utcHook struct{}

func (utcHook) Levels() []logrus.Level { return logrus.AllLevels }

func (utcHook) Fire(entry *logrus.Entry) error {
	entry.Time = entry.Time.UTC()
	return nil
}
