// Command voiced runs the proximity voice routing core: the signaling
// and media listeners, the routing engine, and every shared store that
// backs them. Flag wiring follows the teacher's main.go (server/main.go)
// — read everything once at startup and thread it into the
// long-lived types — generalized to cobra/pflag per design note §9
// (a structured CLI surface instead of a bare flag.Parse call), and
// layered over internal/config's file-then-flag precedence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nearcast/voicecore/internal/config"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "voiced",
		Short: "Proximity-aware voice routing core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file path (optional)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the signaling and media listeners",
		RunE:  runServe,
	}
	config.RegisterFlags(serveCmd.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("voicecore dev build")
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	root.RunE = serveCmd.RunE
	root.PersistentFlags().AddFlagSet(serveCmd.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *log.Logger {
	logger := log.New(os.Stderr)
	switch logLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, coerced, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if coerced {
		logger.Warn("configured sample_rate is not one of the enumerated rates; coerced to 48000")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	return srv.Run(ctx)
}
