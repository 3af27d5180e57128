package voicelog

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sjzar/voicelog/internal/voicelog"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
)

var (
	configFile string
	dataDir    string
	logLevel   string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "voicelog",
	Short:         "Encrypted voice recordings with resilient transcription",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./voicelog.yaml or <data-dir>/voicelog.yaml)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
}

// Execute runs the root command.
func Execute() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func initLog() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	level := zerolog.InfoLevel
	if lvl := firstNonEmpty(logLevel, os.Getenv(conf.EnvPrefix+"_LOG_LEVEL")); lvl != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(lvl)); err == nil {
			level = parsed
		}
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadConfig reads configuration with command-line overrides applied.
func loadConfig(extra map[string]any) (*conf.Manager, error) {
	overrides := map[string]any{}
	if dataDir != "" {
		overrides["data_dir"] = dataDir
	}
	for k, v := range extra {
		overrides[k] = v
	}
	return conf.Load(configFile, overrides)
}

// openApp loads config and builds the App.
func openApp(opts voicelog.Options, extra map[string]any) (*voicelog.App, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}
	return voicelog.New(cfg, opts)
}

// interactive asks for on-device recognition consent on the terminal.
func interactive() voicelog.Options {
	return voicelog.Options{Prompt: os.Stdin, PromptOut: os.Stderr}
}

// readOnly is for commands that never transcribe.
func readOnly() voicelog.Options {
	return voicelog.Options{SkipIndex: true, ReadOnly: true}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
