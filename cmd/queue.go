package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/astro-dispatch/internal/admin"
)

var failedLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and purge the dispatch queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show depth, in-flight count and per-priority breakdown",
	Args:  cobra.NoArgs,
	RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, _ []string) error {
		st, err := svc.QueueStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	}),
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every queued request; requests held by workers are untouched",
	Args:  cobra.NoArgs,
	RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, _ []string) error {
		n, err := svc.PurgeQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d queued requests\n", n)
		return nil
	}),
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List requests moved to the failed sink, newest first",
	Args:  cobra.NoArgs,
	RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, svc *admin.Service, _ []string) error {
		failed, err := svc.FailedEnvelopes(ctx, failedLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), failed)
	}),
}

func init() {
	queueFailedCmd.Flags().IntVar(&failedLimit, "limit", 50, "maximum number of entries")
	queueCmd.AddCommand(queueStatusCmd, queuePurgeCmd, queueFailedCmd)
}
