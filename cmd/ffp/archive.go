package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newArchiveCmd())
}

func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <path>",
		Short: "Archive a file or folder now, without waiting for it to settle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			job, err := d.Archive(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), red("archive failed:"), err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s (%d entries, %s, took %s)\n",
				green("archived"), job.SourcePath, job.TargetPath, job.Entries,
				humanize.Bytes(uint64(job.Bytes)), job.Finished.Sub(job.Started).Round(time.Millisecond))
			return nil
		},
	}
}
