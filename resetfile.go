package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newResetFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-file <id>",
		Short: "Reset a file stuck at status error back to downloaded",
		Long: `Resets the named file's status from error to downloaded, so the
next pipeline run retries it from the start
(spec §5: the documented operator action for a stuck file).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid file id %q: %w", args[0], err)
			}

			cc := mustCLIContext(cmd.Context())

			if err := cc.Store.ResetFile(cmd.Context(), id); err != nil {
				return err
			}

			statusf("reset file %s to downloaded\n", id)

			return nil
		},
	}
}
