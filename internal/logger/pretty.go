// internal/logger/pretty.go
package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Colors for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// PrettyEncoder creates a user-friendly console encoder
func PrettyEncoder() zapcore.Encoder {
	config := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    customLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	return zapcore.NewConsoleEncoder(config)
}

// customLevelEncoder formats log levels with colors
func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(fmt.Sprintf("%s[DEBUG]%s", ColorCyan, ColorReset))
	case zapcore.InfoLevel:
		enc.AppendString(fmt.Sprintf("%s[INFO]%s", ColorGreen, ColorReset))
	case zapcore.WarnLevel:
		enc.AppendString(fmt.Sprintf("%s[WARN]%s", ColorYellow, ColorReset))
	case zapcore.ErrorLevel:
		enc.AppendString(fmt.Sprintf("%s[ERROR]%s", ColorRed, ColorReset))
	case zapcore.FatalLevel:
		enc.AppendString(fmt.Sprintf("%s[FATAL]%s", ColorRed+ColorBold, ColorReset))
	default:
		enc.AppendString(fmt.Sprintf("[%s]", level.CapitalString()))
	}
}

// customTimeEncoder formats time in a readable way
func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000"))
}

// FormatMessage decorates the milestone messages of a sniping session.
func FormatMessage(msg string) string {
	switch {
	case strings.HasPrefix(msg, "Session started"):
		return fmt.Sprintf("%s🚀 %s%s", ColorBlue, msg, ColorReset)
	case strings.HasPrefix(msg, "Pool found"):
		return fmt.Sprintf("%s🎯 %s%s", ColorPurple, msg, ColorReset)
	case strings.HasPrefix(msg, "Transaction sent"):
		return fmt.Sprintf("%s📤 %s%s", ColorYellow, msg, ColorReset)
	case strings.HasPrefix(msg, "Transaction confirmed"):
		return fmt.Sprintf("%s✅ %s%s", ColorGreen, msg, ColorReset)
	case strings.HasPrefix(msg, "Purchase succeeded"):
		return fmt.Sprintf("%s🎉 %s%s", ColorGreen+ColorBold, msg, ColorReset)
	case strings.HasPrefix(msg, "Insufficient balance"):
		return fmt.Sprintf("%s💸 %s%s", ColorRed, msg, ColorReset)
	default:
		return msg
	}
}

// ShortenAddress keeps the head and tail of a base58 string.
func ShortenAddress(addr string) string {
	if len(addr) > 8 {
		return addr[:4] + "..." + addr[len(addr)-4:]
	}
	return addr
}

// prettyCore rewrites milestone messages for the console and keeps every field.
type prettyCore struct {
	zapcore.Core
}

func (c *prettyCore) With(fields []zapcore.Field) zapcore.Core {
	return &prettyCore{Core: c.Core.With(fields)}
}

func (c *prettyCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *prettyCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = FormatMessage(entry.Message)
	return c.Core.Write(entry, fields)
}
