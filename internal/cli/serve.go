package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/misev/asqldb/internal/app"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Addr      string
	BusyOpens int
	Snapshot  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference array engine over gRPC",
		Long: `Serve an in-memory array engine speaking the rasql subset used by
asqldb. State is restored from the snapshot file at start and saved to it
on shutdown.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "grpc-addr", "", "listen address (default from config)")
	cmd.Flags().IntVar(&opts.BusyOpens, "busy-opens", 0, "refuse the first N opens with no free server")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "engine snapshot file")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions) error {
	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Addr != "" {
		cfg.GRPC.Addr = opts.Addr
	}
	if opts.BusyOpens > 0 {
		cfg.GRPC.BusyOpens = opts.BusyOpens
	}
	if opts.Snapshot != "" {
		cfg.GRPC.Snapshot = opts.Snapshot
	}
	if !cfg.GRPC.Enabled {
		return NewExitError(ExitCommandError, "grpc is disabled in the configuration")
	}

	a, err := app.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine service", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start engine service", err)
	}
	log.Printf("cli: serving %s", a.Addr())
	if err := a.WaitForShutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
