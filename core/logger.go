package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls which records a JSONLogger emits.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// JSONLogger writes one JSON object per log record to an io.Writer.
// It is the production Logger implementation; tests and optional
// dependencies default to NoOpLogger.
type JSONLogger struct {
	mu    sync.Mutex
	out   io.Writer
	level LogLevel
	// Static fields attached to every record (service name, mode, etc.)
	static map[string]interface{}
}

// NewJSONLogger creates a JSONLogger writing to stdout at Info level.
func NewJSONLogger() *JSONLogger {
	return &JSONLogger{out: os.Stdout, level: LevelInfo}
}

// NewJSONLoggerWithOptions creates a JSONLogger with an explicit sink and level.
func NewJSONLoggerWithOptions(out io.Writer, level LogLevel, static map[string]interface{}) *JSONLogger {
	return &JSONLogger{out: out, level: level, static: static}
}

func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) { l.log(LevelDebug, msg, fields) }
func (l *JSONLogger) Info(msg string, fields map[string]interface{})  { l.log(LevelInfo, msg, fields) }
func (l *JSONLogger) Warn(msg string, fields map[string]interface{})  { l.log(LevelWarn, msg, fields) }
func (l *JSONLogger) Error(msg string, fields map[string]interface{}) { l.log(LevelError, msg, fields) }

func (l *JSONLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	record := make(map[string]interface{}, len(fields)+len(l.static)+3)
	for k, v := range l.static {
		record[k] = v
	}
	for k, v := range fields {
		record[k] = v
	}
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	record["level"] = levelName(level)
	record["message"] = msg

	data, err := json.Marshal(record)
	if err != nil {
		// Fields contained a non-serializable value; keep the message at least.
		data = []byte(fmt.Sprintf(`{"level":%q,"message":%q,"log_error":%q}`,
			levelName(level), msg, err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

func levelName(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
