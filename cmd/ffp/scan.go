package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newScanCmd())
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan of every watched folder and archive what is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			results, err := d.ScanOnce(cmd.Context())
			out := cmd.OutOrStdout()
			for _, res := range results {
				fmt.Fprintf(out, "%s  new %d  changed %d  ready %s  errors %d\n",
					res.Root, len(res.Created), len(res.Changed), green(len(res.Ready)), res.Errors)
			}
			return err
		},
	}
}
