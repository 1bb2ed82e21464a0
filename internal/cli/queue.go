// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// QueueOptions holds flags for the queue commands.
type QueueOptions struct {
	*RootOptions
	Database string
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay queued submissions",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the client SQLite database (overrides client.db_path)")
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueReplayCommand(opts))
	return cmd
}

func newQueueListCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List submissions waiting for the record server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := openClient(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := client.Queue.List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), items)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE ID\tRECORD\tEXPECTED\tFIELDS\tATTEMPTS\tQUEUED")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", it.QueueID, it.RecordID, it.ExpectedVersion,
					strings.Join(it.FieldUpdates.Keys(), ","), it.Attempts, it.QueuedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newQueueReplayCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay queued submissions against the record server",
		Long: `Replay queued submissions in order.

Accepted submissions leave the queue. Conflicts that merge cleanly are
re-sent; true conflicts and exhausted submissions are folded back into drafts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := openClient(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := client.SyncPending(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), map[string]int{
					"attempted":   stats.Attempted,
					"accepted":    stats.Accepted,
					"auto_merged": stats.AutoMerged,
					"parked":      stats.Parked,
					"failed":      stats.Failed,
					"deferred":    stats.Deferred,
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"attempted=%d accepted=%d auto_merged=%d parked=%d failed=%d deferred=%d\n",
				stats.Attempted, stats.Accepted, stats.AutoMerged, stats.Parked, stats.Failed, stats.Deferred)
			return err
		},
	}
}
