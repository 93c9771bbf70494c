package cli

import (
	"github.com/spf13/cobra"
)

func newBansCmd() *cobra.Command {
	var deleted bool

	cmd := &cobra.Command{
		Use:   "bans",
		Short: "List bans",
		Long:  "List active bans, or with --deleted the bans that were lifted or expired.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/bans"
			if deleted {
				path += "?deleted=true"
			}

			var result Bans
			if err := client.Get(cmd.Context(), path, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleted, "deleted", false, "List removed bans instead")

	return cmd
}
