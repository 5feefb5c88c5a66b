package logger

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type (
	ContextLogger struct {
		zeroLogger *zerolog.Logger
		name       string
		level      LogLevel
		context    Context
		// fields added with With, kept separate from the global context
		fields Context
	}

	Context map[string]interface{}
)

// newContextLogger creates the logger, but doesn't initialize it yet.
// Loggers are created in var phase while the global configuration is applied later.
func newContextLogger(name string, level LogLevel, context Context) *ContextLogger {
	return &ContextLogger{
		name:    name,
		level:   level,
		context: context,
	}
}

func (c *ContextLogger) init() {
	InitializeGlobalLogger()
	c.update(c.level, c.context)
}

func (c *ContextLogger) update(level LogLevel, context Context) {
	c.level = level
	c.context = context

	zl := log.Level(toZeroLevel(level))
	zc := zl.With()
	for key, value := range context {
		zc = zc.Interface(key, value)
	}
	for key, value := range c.fields {
		zc = zc.Interface(key, value)
	}
	zl = zc.Logger()
	c.zeroLogger = &zl
}

func (c *ContextLogger) logger() *zerolog.Logger {
	if c.zeroLogger == nil {
		c.init()
	}
	return c.zeroLogger
}

func (c *ContextLogger) Trace(format string, args ...interface{}) {
	logMessage(c.logger().Trace(), format, args)
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	logMessage(c.logger().Debug(), format, args)
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	logMessage(c.logger().Info(), format, args)
}

func (c *ContextLogger) Warning(format string, args ...interface{}) {
	logMessage(c.logger().Warn(), format, args)
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	logMessage(c.logger().Error(), format, args)
}

func (c *ContextLogger) With(key string, value interface{}) Logger {
	fields := make(Context, len(c.fields)+1)
	for k, v := range c.fields {
		fields[k] = v
	}
	fields[key] = value
	child := &ContextLogger{name: c.name, level: c.level, context: c.context, fields: fields}
	globalFactoryImpl.track(child)
	return child
}

// ChangeLevel changes the level of the context logger.
func (c *ContextLogger) ChangeLevel(newLevel LogLevel) {
	c.level = newLevel
	zl := c.logger().Level(toZeroLevel(newLevel))
	c.zeroLogger = &zl
}

func logMessage(event *zerolog.Event, format string, args []interface{}) {
	if len(args) == 0 {
		event.Msg(format)
	} else {
		event.Msgf(format, args...)
	}
}

func toZeroLevel(lvl LogLevel) zerolog.Level {
	switch lvl {
	case NONE:
		return zerolog.Disabled
	case TRACE:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("unknown level: %d", lvl))
	}
}
