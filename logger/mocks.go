package logger

import (
	"io"
)

// MockLogger logs everything, down to trace, to the given writer. Tests hand
// it GinkgoWriter so output only shows up for failing specs.
func MockLogger(writer io.Writer) *Logger {
	level := TraceLevel
	config := &Config{
		ConsoleWriters: []io.Writer{writer},
		Level:          &level,
	}

	if logger, err := New(config); err == nil {
		return logger
	}
	return nil
}
