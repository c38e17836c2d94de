package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/misev/asqldb/internal/config"
	"github.com/misev/asqldb/internal/rpc"
	"github.com/misev/asqldb/internal/session"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	Write         bool
	IgnoreFailure bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <rasql>",
		Short: "Send a raw query to the array engine",
		Long: `Send a raw rasql query to the configured array engine through a
session and print the result bag, one element per line.

Examples:
  asqldb query 'create collection c GreySet1' --write
  asqldb query 'select sdom(c) from c'`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return runQuery(cmd.Context(), rootOpts, opts, strings.Join(args, " "), formatter)
		},
	}

	cmd.Flags().BoolVarP(&opts.Write, "write", "w", false, "open the session with write access")
	cmd.Flags().BoolVar(&opts.IgnoreFailure, "ignore-failure", false, "print an empty result instead of failing")

	return cmd
}

func runQuery(ctx context.Context, rootOpts *RootOptions, opts *QueryOptions, query string, out *OutputFormatter) error {
	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s, closeFn := dial(cfg)
	defer closeFn()

	bag, err := s.Execute(ctx, query, session.ExecOptions{
		WriteAccess:   opts.Write,
		IgnoreFailure: opts.IgnoreFailure,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	return out.Bag(bag)
}

// dial returns a session reaching the configured engine over gRPC and a
// function releasing it.
func dial(cfg *config.Config) (*session.Session, func()) {
	tr := rpc.NewTransport()
	s := session.New(tr, session.OptionsFromConfig(cfg.Remote))
	return s, func() {
		_ = s.Close()
		_ = tr.Close()
	}
}
