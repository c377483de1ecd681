// Package log wraps logrus with a context-carried logger.
//
// Components log through L(ctx). Fields added with WithLogField travel with the
// context, so a purchase run logs its signer/market on every line without
// threading an entry through every call.
package log

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L accesses the current logger from the context
	L = loggerFromContext

	initOnce sync.Once
)

type ctxLogKey struct{}

func ensureInit() {
	initOnce.Do(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&prefixed.TextFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FullTimestamp:   true,
			ForceFormatting: true,
		})
	})
}

// WithLogger adds the specified logger to the context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	ensureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds the specified field to the logger in the context
func WithLogField(ctx context.Context, key, value string) context.Context {
	ensureInit()
	if len(value) > 61 {
		value = value[0:61] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

// WithComponent tags the context logger with a component, rendered by the
// prefixed formatter as "[component]".
func WithComponent(ctx context.Context, component string) context.Context {
	ensureInit()
	return WithLogger(ctx, loggerFromContext(ctx).WithField("prefix", component))
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	ensureInit()
	if ctx == nil {
		return rootLogger
	}
	logger := ctx.Value(ctxLogKey{})
	if logger == nil {
		return rootLogger
	}
	return logger.(*logrus.Entry)
}

// SetLevel accepts error|warn|info|debug|trace; anything else means info.
func SetLevel(level string) {
	ensureInit()
	switch strings.ToLower(level) {
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// IsDebugEnabled reports whether debug lines will be emitted.
func IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}
