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

// DraftsOptions holds flags for the drafts commands.
type DraftsOptions struct {
	*RootOptions
	Database string
}

// draftRow is the listing shape of one draft.
type draftRow struct {
	RecordID        string            `json:"record_id"`
	BaselineVersion int64             `json:"baseline_version"`
	DirtyFields     []string          `json:"dirty_fields"`
	CurrentValues   map[string]string `json:"current_values"`
	SavedAt         time.Time         `json:"saved_at"`
}

// NewDraftsCommand creates the drafts command group.
func NewDraftsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DraftsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect locally persisted drafts",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the client SQLite database (overrides client.db_path)")
	cmd.AddCommand(newDraftsListCommand(opts))
	cmd.AddCommand(newDraftsPurgeCommand(opts))
	return cmd
}

func newDraftsListCommand(opts *DraftsOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List drafts that are still within their time-to-live",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := openClient(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer closeFn()

			drafts, err := client.Drafts.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([]draftRow, 0, len(drafts))
			for _, d := range drafts {
				rows = append(rows, draftRow{
					RecordID:        d.RecordID,
					BaselineVersion: d.BaselineVersion,
					DirtyFields:     d.DirtyFields,
					CurrentValues:   d.CurrentValues,
					SavedAt:         d.SavedAt,
				})
			}
			if opts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORD\tVERSION\tDIRTY\tSAVED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.RecordID, r.BaselineVersion,
					strings.Join(r.DirtyFields, ","), r.SavedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newDraftsPurgeCommand(opts *DraftsOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "purge [record-id...]",
		Short: "Remove drafts for the given records, or every draft with --all",
		Long: `Remove drafts from the local database.

Stale drafts and drafts written under another schema version are removed
whenever the database is opened, so purge only has to handle live ones.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass record ids or --all")
			}
			client, closeFn, err := openClient(opts.RootOptions, opts.Database)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			ids := args
			if all {
				drafts, err := client.Drafts.List(ctx)
				if err != nil {
					return err
				}
				ids = ids[:0:0]
				for _, d := range drafts {
					ids = append(ids, d.RecordID)
				}
			}
			for _, id := range ids {
				if err := client.Drafts.Delete(ctx, id); err != nil {
					return err
				}
			}
			if opts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), map[string]int{"removed": len(ids)})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d draft(s)\n", len(ids))
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every draft")
	return cmd
}
