package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/pdp-relay/log"
	"github.com/compose-network/pdp-relay/relay-app/config"
)

var (
	cfgFile string
	envFile string
	rootCmd = &cobra.Command{
		Use:   "pdp-relay",
		Short: "PDP status relay",
		Long: "Relays storage-proof status of the most recently uploaded file to a serial display.\n\n" +
			"Stage changes arrive over a request/acknowledge socket; statuses are refined by polling the PDP explorer.",
		SilenceUsage: true,
		RunE:         runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfig,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Device flags
	rootCmd.PersistentFlags().String("device", "", "serial device path")
	rootCmd.PersistentFlags().Int("baud-rate", 0, "serial baud rate")

	// Ingress flags
	rootCmd.PersistentFlags().String("bind-address", "", "ingress socket bind address")
	rootCmd.PersistentFlags().Bool("reject-malformed", false, "drop malformed requests instead of exiting")

	// Reconciler flags
	rootCmd.PersistentFlags().String("api-base-url", "", "PDP explorer base URL")
	rootCmd.PersistentFlags().Duration("poll-interval", 0, "reconciliation poll interval")

	// HTTP flags
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
	rootCmd.PersistentFlags().String("api-listen-addr", "", "operational HTTP API listen address")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, logErr := log.NewWithOptions(log.Options{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cfg.Log.Output,
		File:   cfg.Log.File,
	})
	if logErr != nil {
		logger.Warn().Err(logErr).Msg("Logger fell back to defaults")
	}
	defer func() {
		if err := logger.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	logger.Info().
		Str("config_file", cfgFile).
		Str("device", cfg.Device.Path).
		Int("baud_rate", cfg.Device.BaudRate).
		Str("transport", cfg.Ingress.Transport).
		Str("bind_address", cfg.Ingress.BindAddress).
		Str("pdp_explorer", cfg.PDPExplorer.BaseURL).
		Dur("poll_interval", cfg.Reconciler.PollInterval).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PDP status relay\n")
	fmt.Fprintf(out, "Version:    %s\n", Version)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
	fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return writeYAML(cmd.OutOrStdout(), cfg)
}

func writeYAML(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-pretty") {
		cfg.Log.Pretty, _ = flags.GetBool("log-pretty")
	}

	if flags.Changed("device") {
		cfg.Device.Path, _ = flags.GetString("device")
	}
	if flags.Changed("baud-rate") {
		cfg.Device.BaudRate, _ = flags.GetInt("baud-rate")
	}

	if flags.Changed("bind-address") {
		cfg.Ingress.BindAddress, _ = flags.GetString("bind-address")
	}
	if flags.Changed("reject-malformed") {
		cfg.Ingress.RejectMalformed, _ = flags.GetBool("reject-malformed")
	}

	if flags.Changed("api-base-url") {
		cfg.PDPExplorer.BaseURL, _ = flags.GetString("api-base-url")
	}
	if flags.Changed("poll-interval") {
		cfg.Reconciler.PollInterval, _ = flags.GetDuration("poll-interval")
	}

	if flags.Changed("metrics") {
		cfg.Metrics.Enabled, _ = flags.GetBool("metrics")
	}
	if flags.Changed("api-listen-addr") {
		cfg.API.ListenAddr, _ = flags.GetString("api-listen-addr")
	}
}
