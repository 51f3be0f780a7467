/*
Package config loads the client's settings from a YAML file and lets
environment variables override them. The file may be shared between processes
(one writing a fresh default while another starts up), so every read takes a
shared file lock and every write an exclusive one.
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/wsession/wsession/connection/codec"
	"github.com/wsession/wsession/connection/session"
	"github.com/wsession/wsession/connection/transporter/websocket"
	"github.com/wsession/wsession/logger"
)

const (
	EndpointEnvVar      = "WSESSION_ENDPOINT"
	SubprotocolEnvVar   = "WSESSION_SUBPROTOCOL"
	LogLevelEnvVar      = "WSESSION_LOG_LEVEL"
	LogPathEnvVar       = "WSESSION_LOG_PATH"
	AutoReconnectEnvVar = "WSESSION_AUTO_RECONNECT"
	MaxQueueDepthEnvVar = "WSESSION_MAX_QUEUE_DEPTH"

	DefaultEndpoint = "ws://localhost:8080"
	DefaultLogLevel = "info"

	lockSuffix     = ".lock"
	lockRetryDelay = 10 * time.Millisecond
)

type Backoff struct {
	Base   time.Duration `yaml:"base"`
	Factor float64       `yaml:"factor"`
	Cap    time.Duration `yaml:"cap"`
	Jitter float64       `yaml:"jitter"`
}

type Transport struct {
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	PingInterval     time.Duration `yaml:"pingInterval"`
	Binary           bool          `yaml:"binary"`
}

type Log struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path,omitempty"`
}

type Config struct {
	Endpoint    string `yaml:"endpoint"`
	Subprotocol string `yaml:"subprotocol"`

	// Overrides the framing picked from the subprotocol
	Codec string `yaml:"codec,omitempty"`

	AutoReconnect        bool `yaml:"autoReconnect"`
	MaxQueueDepth        int  `yaml:"maxQueueDepth"`
	MaxReconnectAttempts int  `yaml:"maxReconnectAttempts"`
	CloseOnDecodeError   bool `yaml:"closeOnDecodeError"`

	Backoff   Backoff   `yaml:"backoff"`
	Transport Transport `yaml:"transport"`
	Log       Log       `yaml:"log"`
}

func Default() *Config {
	sessionDefaults := session.DefaultConfig(DefaultEndpoint)

	return &Config{
		Endpoint:             sessionDefaults.Endpoint,
		Subprotocol:          sessionDefaults.Subprotocol,
		AutoReconnect:        sessionDefaults.AutoReconnect,
		MaxQueueDepth:        sessionDefaults.MaxQueueDepth,
		MaxReconnectAttempts: sessionDefaults.MaxReconnectAttempts,
		CloseOnDecodeError:   sessionDefaults.CloseOnDecodeError,
		Backoff: Backoff{
			Base:   sessionDefaults.Backoff.Base,
			Factor: sessionDefaults.Backoff.Factor,
			Cap:    sessionDefaults.Backoff.Cap,
			Jitter: sessionDefaults.Backoff.Jitter,
		},
		Transport: Transport{
			HandshakeTimeout: sessionDefaults.Transport.HandshakeTimeout,
			WriteTimeout:     sessionDefaults.Transport.WriteTimeout,
			PingInterval:     sessionDefaults.Transport.PingInterval,
			Binary:           sessionDefaults.Transport.Binary,
		},
		Log: Log{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads the file at path on top of the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, &FileError{Path: path, InnerErr: err}
	}

	data, err := withLock(path, false, func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		return nil, &FileError{Path: path, InnerErr: err}
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the config to path, creating its directory if needed and
// replacing whatever was there
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	_, err = withLock(path, true, func() ([]byte, error) {
		return nil, os.WriteFile(path, data, 0644)
	})
	if err != nil {
		return &FileError{Path: path, InnerErr: err}
	}

	return nil
}

// ApplyEnv overwrites any field whose environment variable is set
func (c *Config) ApplyEnv() error {
	if value, ok := os.LookupEnv(EndpointEnvVar); ok {
		c.Endpoint = value
	}

	if value, ok := os.LookupEnv(SubprotocolEnvVar); ok {
		c.Subprotocol = value
	}

	if value, ok := os.LookupEnv(LogLevelEnvVar); ok {
		c.Log.Level = value
	}

	if value, ok := os.LookupEnv(LogPathEnvVar); ok {
		c.Log.Path = value
	}

	if value, ok := os.LookupEnv(AutoReconnectEnvVar); ok {
		autoReconnect, err := strconv.ParseBool(value)
		if err != nil {
			return &EnvError{Var: AutoReconnectEnvVar, Value: value, InnerErr: err}
		}
		c.AutoReconnect = autoReconnect
	}

	if value, ok := os.LookupEnv(MaxQueueDepthEnvVar); ok {
		depth, err := strconv.Atoi(value)
		if err != nil {
			return &EnvError{Var: MaxQueueDepthEnvVar, Value: value, InnerErr: err}
		}
		c.MaxQueueDepth = depth
	}

	return nil
}

func (c *Config) Validate() error {
	if _, err := logger.ToLogLevel(c.Log.Level); err != nil {
		return &ValidationError{InnerErr: err}
	}

	sessionConfig, err := c.SessionConfig()
	if err != nil {
		return &ValidationError{InnerErr: err}
	}

	if err := sessionConfig.Validate(); err != nil {
		return &ValidationError{InnerErr: err}
	}

	return nil
}

// SessionConfig translates the file's settings into the session's own config
func (c *Config) SessionConfig() (session.Config, error) {
	sessionConfig := session.DefaultConfig(c.Endpoint)
	sessionConfig.Subprotocol = c.Subprotocol
	sessionConfig.AutoReconnect = c.AutoReconnect
	sessionConfig.MaxQueueDepth = c.MaxQueueDepth
	sessionConfig.MaxReconnectAttempts = c.MaxReconnectAttempts
	sessionConfig.CloseOnDecodeError = c.CloseOnDecodeError
	sessionConfig.Backoff = session.BackoffConfig{
		Base:   c.Backoff.Base,
		Factor: c.Backoff.Factor,
		Cap:    c.Backoff.Cap,
		Jitter: c.Backoff.Jitter,
	}
	sessionConfig.Transport = websocket.Config{
		HandshakeTimeout: c.Transport.HandshakeTimeout,
		WriteTimeout:     c.Transport.WriteTimeout,
		PingInterval:     c.Transport.PingInterval,
		Binary:           c.Transport.Binary,
	}

	if c.Codec != "" {
		framing, err := codec.ForSubprotocol(c.Codec)
		if err != nil {
			return sessionConfig, fmt.Errorf("bad codec: %w", err)
		}
		sessionConfig.Codec = framing
	}

	return sessionConfig, nil
}

// LoggerConfig builds the logger settings, echoing to any extra writers given
func (c *Config) LoggerConfig(consoleWriters ...io.Writer) (*logger.Config, error) {
	level, err := logger.ToLogLevel(c.Log.Level)
	if err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	return &logger.Config{
		FilePath:       c.Log.Path,
		ConsoleWriters: consoleWriters,
		Level:          &level,
	}, nil
}

// withLock runs f while holding a lock on the file next to path, shared for
// readers and exclusive for writers
func withLock(path string, exclusive bool, f func() ([]byte, error)) ([]byte, error) {
	fileLock := flock.New(path + lockSuffix)

	tryLock := fileLock.TryRLock
	if exclusive {
		tryLock = fileLock.TryLock
	}

	for {
		if acquiredLock, err := tryLock(); err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		} else if acquiredLock {
			break
		}
		time.Sleep(lockRetryDelay)
	}
	defer fileLock.Unlock()

	return f()
}
