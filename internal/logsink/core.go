package logsink

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Core forwards zap entries to a Sink. The logger name becomes the event
// component; fields are appended to the message as key=value pairs.
type Core struct {
	zapcore.LevelEnabler
	sink   *Sink
	fields []zapcore.Field
}

// NewCore returns a core shipping entries at or above level to sink
func NewCore(sink *Sink, level zapcore.LevelEnabler) *Core {
	return &Core{LevelEnabler: level, sink: sink}
}

// Attach tees logger with a core shipping to sink
func Attach(logger *zap.Logger, sink *Sink, level zapcore.LevelEnabler) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, NewCore(sink, level))
	}))
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	component := ent.LoggerName
	if component == "" {
		component = "app"
	}
	c.sink.Send(Event{
		Level:     levelName(ent.Level),
		Component: component,
		Message:   render(ent.Message, c.fields, fields),
		Timestamp: ent.Time,
	})
	return nil
}

func (c *Core) Sync() error { return nil }

// levelName maps zap levels onto debug, info, warn, error and fatal
func levelName(l zapcore.Level) string {
	switch {
	case l >= zapcore.DPanicLevel:
		return "fatal"
	case l == zapcore.ErrorLevel:
		return "error"
	case l == zapcore.WarnLevel:
		return "warn"
	case l == zapcore.InfoLevel:
		return "info"
	default:
		return "debug"
	}
}

func render(msg string, sets ...[]zapcore.Field) string {
	enc := zapcore.NewMapObjectEncoder()
	var keys []string
	for _, fields := range sets {
		for _, f := range fields {
			f.AddTo(enc)
			keys = append(keys, f.Key)
		}
	}
	if len(keys) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		v, ok := enc.Fields[k]
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(stringify(v))
	}
	return b.String()
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
