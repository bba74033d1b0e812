package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorWhite  = "\033[37m"
)

type LogType string

const (
	TypeCommand   LogType = "CMD"
	TypeComponent LogType = "CMP"
	TypeDB        LogType = "DB"
	TypeSystem    LogType = "SYS"
	TypeTimer     LogType = "TIMER"
	TypeCache     LogType = "CACHE"
	TypeError     LogType = "ERR"
)

// Keys consumed by the handler itself and not repeated in the attribute tail.
var internalAttrs = map[string]bool{
	"type":           true,
	"name":           true,
	"user_name":      true,
	"status":         true,
	"error":          true,
	"error_location": true,
	"took":           true,
}

// Noisy disgo gateway and rest messages.
var skippedMessages = []string{
	"locking buckets",
	"unlocking buckets",
	"gateway event",
	"cleaning up bucket",
	"cleaned up rate limit buckets",
	"binary message received",
	"received gateway message",
	"locking gateway rate limiter",
	"unlocking gateway rate limiter",
	"sending gateway command",
	"new request",
	"new response",
	"locking rest bucket",
	"unlocking rest bucket",
	"rate limit response headers",
	"sending heartbeat",
}

type CustomHandler struct {
	prefix string
	opts   *slog.HandlerOptions
	out    io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

// NewHandler returns a colored single-line handler writing to stdout.
func NewHandler(prefix string, opts *slog.HandlerOptions) *CustomHandler {
	return NewHandlerWithWriter(os.Stdout, prefix, opts)
}

func NewHandlerWithWriter(out io.Writer, prefix string, opts *slog.HandlerOptions) *CustomHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: slog.LevelInfo}
	}
	return &CustomHandler{
		prefix: prefix,
		opts:   opts,
		out:    out,
		mu:     &sync.Mutex{},
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	if shouldSkipLog(&r) {
		return nil
	}

	levelColor, levelText := levelStyle(r.Level)
	fields := collectFields(h.attrs, &r)

	message := r.Message
	if r.Level >= slog.LevelError {
		location := fields.errorLocation
		if location == "" && h.opts.AddSource {
			location = sourceLocation(r.PC)
		}
		if location != "" {
			message = fmt.Sprintf("%s (%s)", message, location)
		}
		if fields.err != "" {
			message = fmt.Sprintf("%s: %s", message, fields.err)
		}
	}

	if fields.name != "" && fields.userName != "" {
		message = fmt.Sprintf("%s [%s by %s]", message, fields.name, fields.userName)
	}
	if fields.status != "" {
		message = fmt.Sprintf("%s [Status: %s]", message, fields.status)
	}
	if fields.took != "" {
		message = fmt.Sprintf("%s (took %s)", message, fields.took)
	}

	var tail strings.Builder
	prefix := strings.Join(h.groups, ".")
	for _, attr := range fields.rest {
		key := attr.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		fmt.Fprintf(&tail, " %s=%v", key, attr.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, "%s[%s] [%s] [%s%s%s] [%s] %s%s%s\n",
		colorWhite,
		h.prefix,
		r.Time.Format("15:04:05"),
		levelColor,
		levelText,
		colorWhite,
		fields.logType,
		message,
		tail.String(),
		colorReset,
	)
	return err
}

type recordFields struct {
	logType       LogType
	name          string
	userName      string
	status        string
	err           string
	errorLocation string
	took          string
	rest          []slog.Attr
}

func collectFields(handlerAttrs []slog.Attr, r *slog.Record) recordFields {
	fields := recordFields{logType: TypeSystem}
	visit := func(a slog.Attr) bool {
		switch a.Key {
		case "type":
			fields.logType = parseLogType(a.Value.String())
		case "name":
			fields.name = a.Value.String()
		case "user_name":
			fields.userName = a.Value.String()
		case "status":
			fields.status = a.Value.String()
		case "error":
			fields.err = fmt.Sprintf("%v", a.Value.Any())
		case "error_location":
			fields.errorLocation = a.Value.String()
		case "took":
			fields.took = a.Value.String()
		}
		if !internalAttrs[a.Key] {
			fields.rest = append(fields.rest, a)
		}
		return true
	}
	for _, a := range handlerAttrs {
		visit(a)
	}
	r.Attrs(visit)
	return fields
}

func parseLogType(v string) LogType {
	switch v {
	case "cmd":
		return TypeCommand
	case "component":
		return TypeComponent
	case "db":
		return TypeDB
	case "timer":
		return TypeTimer
	case "cache":
		return TypeCache
	case "error":
		return TypeError
	default:
		return TypeSystem
	}
}

func levelStyle(level slog.Level) (string, string) {
	switch {
	case level >= slog.LevelError:
		return colorRed, "ERROR"
	case level >= slog.LevelWarn:
		return colorYellow, "WARN"
	case level >= slog.LevelInfo:
		return colorGreen, "INFO"
	default:
		return colorPurple, "DEBUG"
	}
}

func shouldSkipLog(r *slog.Record) bool {
	msg := strings.ToLower(r.Message)
	for _, skip := range skippedMessages {
		if strings.Contains(msg, skip) {
			return true
		}
	}
	return false
}

func sourceLocation(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

// Elapsed formats a duration the way the handler prints "took" values.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("took", time.Since(start).Round(time.Millisecond))
}
