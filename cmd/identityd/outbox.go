package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newOutboxCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the event outbox",
	}
	cmd.AddCommand(newOutboxFlaggedCmd(opts), newOutboxRequeueCmd(opts))
	return cmd
}

func newOutboxFlaggedCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "flagged",
		Short: "List records that exhausted their delivery attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			recs, err := rt.db.FlaggedOutbox(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "EVENT ID\tTENANT\tTYPE\tATTEMPTS\tFLAGGED AT\tLAST ERROR")
			for _, r := range recs {
				flagged := ""
				if r.FlaggedAt != nil {
					flagged = r.FlaggedAt.UTC().Format(time.RFC3339)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.EventID, r.TenantID, r.EventType, r.AttemptCount, flagged, r.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum records to list")
	return cmd
}

func newOutboxRequeueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <event-id>...",
		Short: "Return flagged records to the queue with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, id := range args {
				ok, err := rt.db.RequeueFlagged(cmd.Context(), id, time.Now())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("event %s is not flagged", id)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", id)
			}
			return nil
		},
	}
}
