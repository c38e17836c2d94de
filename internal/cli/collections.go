package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/misev/asqldb/internal/catalog"
	"github.com/misev/asqldb/internal/notify"
)

// NewCollectionsCommand creates the collections command.
func NewCollectionsCommand(rootOpts *RootOptions) *cobra.Command {
	var describe bool

	cmd := &cobra.Command{
		Use:           "collections",
		Short:         "List the collections of the array engine",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return runCollections(cmd.Context(), rootOpts, describe, formatter)
		},
	}

	cmd.Flags().BoolVarP(&describe, "describe", "d", false, "append the domain of each collection's first array")

	return cmd
}

func runCollections(ctx context.Context, rootOpts *RootOptions, describe bool, out *OutputFormatter) error {
	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s, closeFn := dial(cfg)
	defer closeFn()

	cat := catalog.New(s, notify.NewNotifier(1))
	if err := cat.Init(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to list collections", err)
	}

	names := cat.Names()
	if !describe {
		return out.Lines(names)
	}
	lines := make([]string, 0, len(names))
	for _, name := range names {
		sdom, err := s.CollectionAs(ctx, name, "sdom")
		if err != nil {
			return WrapExitError(ExitFailure, "failed to describe "+name, err)
		}
		if sdom == nil {
			lines = append(lines, name)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %v", name, sdom))
	}
	return out.Lines(lines)
}
