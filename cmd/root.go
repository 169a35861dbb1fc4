package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/epalmerini/msgscope/internal/broker"
	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/epalmerini/msgscope/internal/config"
	"github.com/epalmerini/msgscope/internal/logger"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/messaging"
	"github.com/epalmerini/msgscope/internal/proto"
	"github.com/epalmerini/msgscope/internal/semp"
	"github.com/epalmerini/msgscope/internal/xdg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	cfgFile   string
	profile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "msgscope",
	Short: "Browse broker queues and replay logs without consuming them",
	Long: `msgscope pages through the messages held in a broker queue or replay log,
joining management metadata with message content. Browsing never removes
messages; copy, move and delete act on explicitly selected messages only.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/msgscope/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "connection profile from the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error), overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console|json), overrides the config file")
}

// app is what every command needs once flags and config are resolved.
type app struct {
	cfg config.Config
	log *zap.Logger
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return xdg.ConfigFile()
}

func loadApp() (*app, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fc, err := config.LoadFileConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := fc.Resolve(profile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	log.Debug("config loaded",
		zap.String("file", path),
		zap.String("profile", cfg.Profile),
		zap.String("vpn", cfg.Connection.MsgVPN))
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

var errNoManagement = errors.New("no management endpoint configured (set a profile or SEMP_URL)")

func (a *app) management() (*semp.Client, error) {
	if a.cfg.Connection.Management.Host == "" {
		return nil, errNoManagement
	}
	return semp.NewClient(a.cfg.Connection), nil
}

// decoder loads the protobuf decoder when a proto path is configured.
func (a *app) decoder(override string) message.Decoder {
	path := a.cfg.ProtoPath
	if override != "" {
		path = override
	}
	if path == "" {
		return nil
	}
	dec, err := proto.NewDecoder(path)
	if err != nil {
		a.log.Warn("protobuf decoding disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	for _, w := range dec.Warnings {
		a.log.Warn("skipped proto file", zap.String("detail", w))
	}
	a.log.Debug("protobuf types loaded", zap.Int("types", len(dec.ListTypes())))
	return dec
}

func (a *app) deps(dec message.Decoder) browse.Deps {
	return browse.Deps{
		Management: func(conn broker.Connection) (browse.Management, error) {
			if conn.Management.Host == "" {
				return nil, errNoManagement
			}
			return semp.NewClient(conn), nil
		},
		Session: func(conn broker.Connection) browse.Session {
			return messaging.NewSession(conn, messaging.Options{Logger: a.log})
		},
		Merger:      message.Merger{Decoder: dec},
		Logger:      a.log,
		PageSize:    a.cfg.PageSize,
		ReadTimeout: a.cfg.ReadTimeout,
		ReplaySlack: a.cfg.ReplaySlack,
	}
}
