package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeAnalysis   EventType = "analysis"
	EventTypeStep       EventType = "step"
	EventTypePhase      EventType = "phase"
	EventTypePermission EventType = "permission"
	EventTypeCapture    EventType = "capture"
	EventTypeHeartbeat  EventType = "heartbeat"
	EventTypeLLM        EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Config selects level, encoding and destination of the process logger.
type Config struct {
	Level       string
	Format      string // json, console
	Output      string // stdout, stderr, file
	FilePath    string
	Development bool
}

// Logger is a zap logger that additionally journals LLM exchanges to a
// rotating jsonl file.
type Logger struct {
	*zap.Logger
	llmLogPath string
	maxSize    int64
}

func NewLogger(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "@timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var ws zapcore.WriteSyncer
	switch cfg.Output {
	case "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "file":
		if cfg.FilePath == "" {
			ws = zapcore.AddSync(NewTermWriter())
			break
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		ws = zapcore.AddSync(f)
	default:
		// Through the terminal mutex so log lines never interrupt the live status line.
		ws = zapcore.AddSync(NewTermWriter())
	}

	core := zapcore.NewCore(encoder, ws, level)
	return &Logger{
		Logger:     zap.New(core, zap.AddCaller()),
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}, nil
}

// NewNop returns a Logger that discards everything, including the LLM journal.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), llmLogPath: l.llmLogPath, maxSize: l.maxSize}
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	l.Info(string(evt.Type),
		zap.String("chat_id", evt.ChatID),
		zap.String("task_id", evt.TaskID),
		zap.Any("data", evt.Data),
	)

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.Warn("failed to create log directory", zap.Error(err))
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.Warn("failed to open log file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.Warn("failed to write to log file", zap.Error(err))
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPhase(taskID, from, to string) {
	l.Log(Event{
		Type:   EventTypePhase,
		TaskID: taskID,
		Data:   map[string]string{"from": from, "to": to},
	})
}

func (l *Logger) LogStep(taskID string, stepID int, action string) {
	l.Log(Event{
		Type:   EventTypeStep,
		TaskID: taskID,
		Data:   map[string]any{"step_id": stepID, "action": action},
	})
}

func (l *Logger) LogAnalysis(taskID string, step int, status string, confidence float64) {
	l.Log(Event{
		Type:   EventTypeAnalysis,
		TaskID: taskID,
		Data: map[string]any{
			"step":       step,
			"status":     status,
			"confidence": confidence,
		},
	})
}

func (l *Logger) LogPermission(capability string, granted bool, reason string) {
	l.Log(Event{
		Type: EventTypePermission,
		Data: map[string]any{
			"capability": capability,
			"granted":    granted,
			"reason":     reason,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(taskID string, prompt any, response string) {
	l.Log(Event{
		Type:   EventTypeLLM,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}
