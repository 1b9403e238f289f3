package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "restore",
		Aliases: []string{"sync"},
		Short:   "Populate CARGO_HOME with every dependency of the lock file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.app.Restore(cmd.Context(), syncOptions(cmd))
			return err
		},
	}
}
