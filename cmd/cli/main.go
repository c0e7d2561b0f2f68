package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/config"
	"github.com/stockpulse/stock-monitor/internal/database"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stockctl",
	Short: "Stock Monitor CLI - manage scan tasks, watchlists and exports",
	Long: `stockctl administers the stock monitor's embedded store: task groups
and scan tasks, subscriber watchlists, the proxy pool, one-shot scans and
price-history exports.`,
	PersistentPreRunE: persistentPreRun,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}
}

// persistentPreRun connects the embedded store before each command. Every
// real command reads or writes it.
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	logger = initLogger()

	if cfg == nil {
		return fmt.Errorf("config required for %s command but not loaded", cmd.Name())
	}

	ctx := context.Background()
	if err := database.Connect(ctx, database.Options{
		Path:           cfg.Database.Path,
		MaxConnections: cfg.Database.MaxConnections,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
	}); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	return nil
}

func initLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.WarnLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsedLevel
		}
	}

	// Console format keeps CLI output readable; tables go to stdout, logs
	// to stderr.
	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: cfg != nil && cfg.Logging.NoColor}
	l := zerolog.New(output).Level(level).With().Timestamp().Logger()
	log.Logger = l
	return l
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
