// Package cli implements the asqldb command line.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/misev/asqldb/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	DataDir    string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the asqldb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "asqldb",
		Short: "asqldb - SQL with multidimensional arrays",
		Long: `asqldb compiles array expressions embedded in SQL into queries for a
remote array engine. This binary serves a reference engine over gRPC and
sends raw queries to an engine.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "configuration file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file with ASQLDB_ variables")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "base directory for data files")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewCollectionsCommand(opts))

	return cmd
}

// LoadConfig builds the configuration from defaults or the config file,
// the env file, the environment and the global flags, in that order.
func (o *RootOptions) LoadConfig() (*config.Config, error) {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	cfg := config.DefaultConfig()
	if o.ConfigFile != "" {
		var err error
		cfg, err = config.LoadFromFile(o.ConfigFile)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
