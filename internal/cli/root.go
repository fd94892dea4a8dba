package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonapi-atomic/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional YAML config file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the atomic CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "atomic",
		Short: "atomic - JSON:API atomic operations service",
		Long: `Serve and exercise JSON:API atomic operations.

A batch of add, update and remove operations is validated as a whole,
executed in one transaction and answered with one result per operation.
Configuration comes from defaults, an optional YAML file (--config) and
ATOMIC_* environment variables.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// StoreFlags are per-command overrides of the configured schema and
// database.
type StoreFlags struct {
	Schema   string
	Database string
}

func (f *StoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Schema, "schema", "", "CUE schema file or directory (overrides config)")
	cmd.Flags().StringVar(&f.Database, "db", "", "path to SQLite database (overrides config)")
}

func (f *StoreFlags) apply(cfg *config.Config) {
	if f.Schema != "" {
		cfg.Schema = f.Schema
	}
	if f.Database != "" {
		cfg.Store.Path = f.Database
	}
}

// loadConfig loads the configuration, applies command overrides and
// validates the result.
func loadConfig(opts *RootOptions, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs a text slog handler on w. Verbose forces debug
// level; otherwise the configured level applies.
func setupLogging(w io.Writer, cfg *config.Config, verbose bool) {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
