// Command Enkidu runs the conversational SMS, voice and WhatsApp companion service.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/Enkidu/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootFlags are the persistent flags overriding environment configuration.
type rootFlags struct {
	stateDir string
	dbDSN    string
	logLevel string
}

func buildRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "enkidu",
		Short: "Conversational companion over SMS, voice and WhatsApp",
		Long: strings.TrimSpace(`Enkidu keeps a per-user conversation going across eight reflective
dimensions. It answers Twilio SMS and voice webhooks, or chats over WhatsApp,
and remembers what each person shared.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&flags.stateDir, "state-dir", "", "state directory for Enkidu data (overrides $ENKIDU_STATE_DIR)")
	root.PersistentFlags().StringVar(&flags.dbDSN, "db-dsn", "", `user context store DSN, "memory" for in-memory (overrides $DATABASE_URL)`)
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides $LOG_LEVEL)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newInspectCommand(flags))
	return root
}

// loadConfig reads the environment, applies the flags the user set and validates the result.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pf := cmd.Flags()
	if pf.Changed("state-dir") {
		cfg.StateDir = flags.stateDir
	}
	if pf.Changed("db-dsn") {
		cfg.DatabaseURL = flags.dbDSN
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initializeLogger(cfg.LogLevel)
	return cfg, nil
}

// initializeLogger installs a text slog handler on stdout at the given level.
func initializeLogger(level string) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}
