/*
Package logger wraps zerolog with the small method set the rest of the module
logs through. Loggers form a tree: every connection layer asks its parent for a
component logger so that log lines carry the full path of the component that
produced them (e.g. "Session.Websocket").
*/
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zerolog.Level

const (
	TraceLevel Level = zerolog.TraceLevel
	DebugLevel Level = zerolog.DebugLevel
	InfoLevel  Level = zerolog.InfoLevel
	WarnLevel  Level = zerolog.WarnLevel
	ErrorLevel Level = zerolog.ErrorLevel
	Disabled   Level = zerolog.Disabled
)

const (
	maxLogFileSizeMB = 50
	maxLogFileBackup = 3
	maxLogFileAgeDay = 28

	componentKey = "component"
	sessionKey   = "sessionId"
	versionKey   = "version"
)

type Config struct {
	// Path of the rotating log file, empty means no file output
	FilePath string

	// Additional writers, all rendered with a console writer
	ConsoleWriters []io.Writer

	// Defaults to debug when left at its zero value
	Level *Level
}

type Logger struct {
	logger    zerolog.Logger
	component string

	// shared by every logger derived from the same root
	level *levelFilter
}

func init() {
	// filtering is done per root logger by levelFilter
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

// levelFilter drops events below a level that can change while loggers are in
// use
type levelFilter struct {
	level atomic.Int32
}

func (f *levelFilter) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < zerolog.Level(f.level.Load()) {
		e.Discard()
	}
}

func New(config *Config) (*Logger, error) {
	var writers []io.Writer

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.FilePath, err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxLogFileSizeMB,
			MaxBackups: maxLogFileBackup,
			MaxAge:     maxLogFileAgeDay,
		})
	}

	for _, w := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{Out: w, NoColor: true})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	filter := &levelFilter{}
	filter.level.Store(int32(zerolog.DebugLevel))
	if config.Level != nil {
		filter.level.Store(int32(*config.Level))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Hook(filter).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: zl, level: filter}, nil
}

// ToLogLevel maps the strings accepted by our flags and config files onto
// zerolog levels
func ToLogLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "disabled", "off":
		return Disabled, nil
	default:
		return Disabled, fmt.Errorf("unrecognized log level: %q", level)
	}
}

// SetLevel changes the level of this logger and of every logger derived from
// the same root
func (l *Logger) SetLevel(level Level) {
	l.level.level.Store(int32(level))
}

func (l *Logger) AddVersion(version string) {
	l.logger = l.logger.With().Str(versionKey, version).Logger()
}

// GetComponentLogger returns a child logger whose component field is nested
// under ours
func (l *Logger) GetComponentLogger(component string) *Logger {
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}

	return &Logger{
		logger:    l.logger.With().Str(componentKey, name).Logger(),
		component: name,
		level:     l.level,
	}
}

func (l *Logger) GetSessionLogger(sessionId string) *Logger {
	child := l.GetComponentLogger("Session")
	child.logger = child.logger.With().Str(sessionKey, sessionId).Logger()
	return child
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.logger.Warn().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Msg(err.Error())
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logger.Error().Msgf(format, a...)
}
