package hostel

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the module.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// ResolveLogger picks the logger for name. A provider wins when it returns a
// logger, otherwise the explicit logger (or the default one) is used and wrapped
// in a provider.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return glog.ProviderFromLogger(logger), logger
}

func defaultLogger() Logger {
	return glog.NewLogger(
		glog.WithName("hostel"),
		glog.WithLoggerTypePretty(),
		glog.WithAddSource(false),
	).GetLogger("hostel")
}

// NewLoggerProvider builds the root logger for a binary. level is one of
// trace, debug, info, warn or error; anything else means info.
func NewLoggerProvider(name, level string) LoggerProvider {
	lvl := glog.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		lvl = glog.Trace
	case "debug":
		lvl = glog.Debug
	case "warn":
		lvl = glog.Warn
	case "error", "fatal":
		lvl = glog.Error
	}

	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(lvl),
		glog.WithName(name),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}
