// Package logging provides structured logging channels for the visit agent.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Channel represents a logical logging channel for different agent components
type Channel string

const (
	ChannelSystem   Channel = "system"   // General agent operations
	ChannelStartup  Channel = "startup"  // Agent startup and initialization
	ChannelShutdown Channel = "shutdown" // Teardown and final flush

	ChannelTracking  Channel = "tracking"  // Session lifecycle and flush decisions
	ChannelStorage   Channel = "storage"   // Local state store operations
	ChannelGeo       Channel = "geo"       // Geolocation provider chain
	ChannelTransport Channel = "transport" // Collector dispatches
	ChannelStream    Channel = "stream"    // Debug envelope live-tail

	ChannelPerf Channel = "performance" // Operation timing markers
)

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
	configMu sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool   `json:"outputToFile"`
	OutputToConsole bool   `json:"outputToConsole"`
	LogDirectory    string `json:"logDirectory"`
	JSONFormat      bool   `json:"jsonFormat"`
	IncludeSource   bool   `json:"includeSource"`
	TimestampFormat string `json:"timestampFormat"`

	DefaultLevel  slog.Level             `json:"defaultLevel"`
	ChannelLevels map[Channel]slog.Level `json:"channelLevels"`
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      false,
		IncludeSource:   false,
		TimestampFormat: time.RFC3339,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		config:   config,
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	channels := []Channel{
		ChannelSystem, ChannelStartup, ChannelShutdown,
		ChannelTracking, ChannelStorage, ChannelGeo, ChannelTransport, ChannelStream,
		ChannelPerf,
	}

	for _, channel := range channels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer

	if cl.config.OutputToConsole {
		writers = append(writers, os.Stdout)
	}

	if cl.config.OutputToFile {
		filename := fmt.Sprintf("%s.log", string(channel))
		path := filepath.Join(cl.config.LogDirectory, filename)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}

		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cl.config.IncludeSource,
	}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) System() *slog.Logger    { return cl.channels[ChannelSystem] }
func (cl *ChanneledLogger) Startup() *slog.Logger   { return cl.channels[ChannelStartup] }
func (cl *ChanneledLogger) Shutdown() *slog.Logger  { return cl.channels[ChannelShutdown] }
func (cl *ChanneledLogger) Tracking() *slog.Logger  { return cl.channels[ChannelTracking] }
func (cl *ChanneledLogger) Storage() *slog.Logger   { return cl.channels[ChannelStorage] }
func (cl *ChanneledLogger) Geo() *slog.Logger       { return cl.channels[ChannelGeo] }
func (cl *ChanneledLogger) Transport() *slog.Logger { return cl.channels[ChannelTransport] }
func (cl *ChanneledLogger) Stream() *slog.Logger    { return cl.channels[ChannelStream] }
func (cl *ChanneledLogger) Perf() *slog.Logger      { return cl.channels[ChannelPerf] }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	// Fallback to system channel
	return cl.channels[ChannelSystem]
}

// WithOperation returns a logger with operation context
func (cl *ChanneledLogger) WithOperation(channel Channel, operation string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("operation", operation))
}

// LogDispatch records a collector dispatch outcome on the transport channel.
func (cl *ChanneledLogger) LogDispatch(operation string, isUpdate bool, duration time.Duration, err error) {
	logger := cl.Transport().With(
		slog.String("operation", operation),
		slog.Bool("isUpdate", isUpdate),
		slog.Duration("duration", duration),
	)
	if err != nil {
		logger.Warn("Collector dispatch failed", "error", err.Error())
		return
	}
	logger.Info("Collector dispatch succeeded")
}
