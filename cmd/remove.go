package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	var deleteFile bool

	cmd := &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Remove downloads from the database",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, len(args))
			for i, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid download id %q: %w", arg, err)
				}
				ids[i] = id
			}

			for _, id := range ids {
				if err := eng.Remove(cmd.Context(), id, deleteFile); err != nil {
					return err
				}
				PrintSuccess("Removed " + id.String())
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteFile, "delete-file", false, "Also delete the downloaded file")

	return cmd
}
