package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show the number and size of cached results",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()

				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "storage: %s\nentries: %s\nsize:    %s\n",
					a.cfg.Storage, humanize.Comma(int64(stats.Entries)), humanize.Bytes(uint64(stats.Bytes)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached result",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()

				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if err := st.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s entries (%s)\n",
					humanize.Comma(int64(stats.Entries)), humanize.Bytes(uint64(stats.Bytes)))
				return nil
			},
		},
	)
	return cmd
}
