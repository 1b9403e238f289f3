package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newMirrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mirror",
		Short: "Upload every dependency of the lock file missing from storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.app.Mirror(cmd.Context(), syncOptions(cmd))
			return err
		},
	}
}
