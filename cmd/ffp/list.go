package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/gaki-eu/ffp/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	var (
		root     string
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the tracked entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := listFilter(root, statuses)
			if err != nil {
				return err
			}

			d, err := openDaemon(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			entries, err := d.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tracked entries")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEntries(entries, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "only entries of this watched folder")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only entries in these states (WATCHING, READY_TO_SEND, SENT, ERROR)")
	return cmd
}

func listFilter(root string, statuses []string) (catalog.ListFilter, error) {
	var filter catalog.ListFilter
	if root != "" {
		resolved, err := utils.ResolvePath(root)
		if err != nil {
			return filter, err
		}
		filter.Root = resolved
	}
	for _, s := range statuses {
		status := catalog.Status(strings.ToUpper(strings.TrimSpace(s)))
		if !status.Valid() {
			return filter, fmt.Errorf("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

func renderEntries(entries []catalog.Entry, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Status", "Path", "Files", "Size", "Stable for", "Updated"})

	for i := range entries {
		e := &entries[i]
		stable := "-"
		if e.StableSince != nil {
			stable = e.StableFor(now).Round(time.Second).String()
		}
		files := strconv.FormatInt(e.FileCount, 10)
		if e.ChecksumPending {
			files = "?"
		}
		tw.AppendRow(table.Row{
			colorStatus(e.Status),
			e.Path(),
			files,
			humanize.Bytes(uint64(e.TotalSize)),
			stable,
			humanize.RelTime(e.UpdatedAt, now, "ago", "from now"),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func colorStatus(s catalog.Status) string {
	switch s {
	case catalog.StatusReadyToSend, catalog.StatusSent:
		return green(string(s))
	case catalog.StatusError:
		return red(string(s))
	}
	return cyan(string(s))
}
