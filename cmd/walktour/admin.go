package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"walktour/pkg/config"
)

func newCancelCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Request cancellation of a running session",
		Long: `Raises the cancel flag of a session in the shared database.
A server or generate process running that session stops at its next check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.signal.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s flagged for cancellation\n", args[0])
			return nil
		},
	}
}

func newPruneCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Import curated places and drop expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rep := a.maintain(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "places imported:     %s\n", humanize.Comma(int64(rep.PlacesImported)))
			fmt.Fprintf(out, "cache expired:       %s\n", humanize.Comma(rep.CacheExpired))
			fmt.Fprintf(out, "http cache pruned:   %s\n", humanize.Comma(rep.HTTPCache))
			fmt.Fprintf(out, "checkpoints pruned:  %s\n", humanize.Comma(rep.Checkpoints))
			fmt.Fprintf(out, "cancel flags pruned: %s\n", humanize.Comma(rep.CancelFlags))

			if st, err := a.geo.Stats(cmd.Context()); err == nil {
				fmt.Fprintf(out, "cache now holds %s entries (%s pinned, %s)\n",
					humanize.Comma(int64(st.Total)), humanize.Comma(int64(st.Pinned)), humanize.Bytes(uint64(st.Bytes)))
			}
			return nil
		},
	}
}

func newInitConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefault(*configPath); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", *configPath)
			return nil
		},
	}
}
