package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wsession/wsession/config"
	"github.com/wsession/wsession/connection/codec"
	"github.com/wsession/wsession/connection/session"
	"github.com/wsession/wsession/logger"
)

const (
	clientVersion = "$WSCLIENT_VERSION"

	greetingType    = "greeting"
	defaultGreeting = "Hello from client side"

	shutdownTimeout = 5 * time.Second
)

var greeting string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect, send a greeting and log everything the server sends back",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd, cfgFile == "")
		if err != nil {
			return err
		}

		logger, err := createLogger(cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// an explicit --log-level wins over whatever the file says later
		if path != "" && !cmd.Flags().Changed("log-level") {
			go watchLogLevel(ctx, logger, path)
		}

		return run(ctx, logger, cfg)
	},
}

func init() {
	connectCmd.Flags().StringVar(&greeting, "greeting", defaultGreeting, "message sent as soon as the session opens, empty sends nothing")
	rootCmd.AddCommand(connectCmd)
}

func createLogger(cfg *config.Config, console io.Writer) (*logger.Logger, error) {
	options, err := cfg.LoggerConfig(console)
	if err != nil {
		return nil, err
	}

	logger, err := logger.New(options)
	if err != nil {
		return nil, err
	}

	logger.AddVersion(clientVersion)
	return logger, nil
}

// run drives one session until ctx is cancelled or the session gives up
func run(ctx context.Context, logger *logger.Logger, cfg *config.Config) error {
	sessionConfig, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	s, err := session.New(logger, sessionConfig, nil)
	if err != nil {
		return err
	}

	closed := make(chan struct{}, 1)
	s.OnStateChange(func(change session.StateChange) {
		if change.To == session.Closed {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	})
	s.OnMessage(func(in session.Inbound) {
		if in.Err == nil {
			logger.Infof("Received %s", in.Message)
		}
	})
	s.OnError(func(err error) {
		logger.Error(err)
	})

	// queued until the session opens
	if greeting != "" {
		message, err := greetingMessage(sessionConfig, greeting)
		if err != nil {
			return err
		}
		if _, err := s.Send(message); err != nil {
			return err
		}
	}

	if err := s.Connect(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Interrupted, closing session")
	case <-closed:
		logger.Info("Session closed and will not reconnect")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = s.Shutdown(shutdownCtx)

	if digest, jerr := json.Marshal(s.Stats()); jerr == nil {
		logger.Infof("Session stats: %s", digest)
	}

	return err
}

// greetingMessage frames the greeting for the codec the session will use: a
// raw string under the text subprotocol, a tagged record otherwise
func greetingMessage(sessionConfig session.Config, text string) (codec.Message, error) {
	framing := sessionConfig.Codec
	if framing == nil {
		var err error
		if framing, err = codec.ForSubprotocol(sessionConfig.Subprotocol); err != nil {
			return codec.Message{}, err
		}
	}

	if framing.Name() == codec.TextSubprotocol {
		return codec.NewTextMessage(text), nil
	}
	return codec.NewMessage(greetingType, text)
}

// watchLogLevel applies log level changes made to the config file while we run
func watchLogLevel(ctx context.Context, logger *logger.Logger, path string) {
	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Errorf("Ignoring config change: %s", err)
			return
		}

		options, err := cfg.LoggerConfig()
		if err != nil {
			logger.Errorf("Ignoring config change: %s", err)
			return
		}
		logger.SetLevel(*options.Level)
		logger.Infof("Log level set to %s", cfg.Log.Level)
	})

	if err != nil {
		logger.Errorf("Stopped watching %s: %s", path, err)
	}
}
