package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// statusOrder lists every FileStatus in pipeline order, so the table
// reads top to bottom the way a file actually moves through it.
var statusOrder = []media.FileStatus{
	media.FileDownloaded,
	media.FileDeduplicated,
	media.FileCompressed,
	media.FileBatched,
	media.FileUploaded,
	media.FileVerified,
	media.FileError,
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print per-phase file counts from the local store",
		Long:  `Prints the number of MediaFile rows at each status (spec §6).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			counts, err := cc.Store.CountFilesByStatus(cmd.Context())
			if err != nil {
				return err
			}

			var rows [][]string
			for _, status := range statusOrder {
				rows = append(rows, []string{string(status), strconv.Itoa(counts[status])})
			}

			printTable(os.Stdout, []string{"STATUS", "COUNT"}, rows)

			return nil
		},
	}
}
