// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/quarantine"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		configPath string
		reason     string
		topicLike  string
		clientID   string
		since      string
		until      string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined messages matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := config.Load(configPath, nil)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			store, err := openStore(snap)
			if err != nil {
				return fmt.Errorf("opening quarantine store: %w", err)
			}
			defer store.Close()

			filter := quarantine.Filter{
				Reason:   message.Reason(reason),
				Topic:    topicLike,
				ClientID: clientID,
			}
			if since != "" {
				t, err := parseDate(since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = t
			}
			if until != "" {
				t, err := parseDate(until)
				if err != nil {
					return fmt.Errorf("--until: %w", err)
				}
				filter.Until = t
			}
			if limit <= 0 {
				limit = 50
			}

			records, err := store.List(context.Background(), filter, quarantine.Page{Limit: limit, Offset: offset})
			if err != nil {
				return fmt.Errorf("listing records: %w", err)
			}

			if len(records) == 0 {
				fmt.Println("no quarantined messages match this filter")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUARANTINED_AT\tTOPIC\tCLIENT_ID\tREASON\tSCHEMA_ID\tSIZE\tDETAIL")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID,
					r.QuarantinedAt.Format(time.RFC3339),
					r.Topic,
					r.ClientID,
					r.Reason,
					r.SchemaID,
					r.PayloadSize,
					truncate(r.Detail, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the proxy's YAML configuration file")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by exact quarantine reason, e.g. SchemaValidationError")
	cmd.Flags().StringVar(&topicLike, "topic", "", "filter by exact topic")
	cmd.Flags().StringVar(&clientID, "client-id", "", "filter by exact client id")
	cmd.Flags().StringVar(&since, "since", "", "only records quarantined on or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "only records quarantined before this date, exclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.MarkFlagRequired("config")

	return cmd
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
