// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/schema"
	"github.com/spf13/cobra"
)

// replayStats mirrors the counters an operator watches when resending a
// batch: how many were still invalid on re-check versus actually forwarded.
type replayStats struct {
	processed int
	forwarded int
	stillBad  int
	errors    int
}

func newSendCmd() *cobra.Command {
	var (
		configPath string
		ids        []string
		force      bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Re-validate and resend one or more quarantined messages",
		Long: "Re-validate loads each message's current topic rules and schema " +
			"bindings and only forwards messages that pass today, not the rules " +
			"in force when they were first quarantined. Use --force to skip " +
			"re-validation and resend as-is.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return fmt.Errorf("at least one --id is required")
			}

			snap, err := config.Load(configPath, nil)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			store, err := openStore(snap)
			if err != nil {
				return fmt.Errorf("opening quarantine store: %w", err)
			}
			defer store.Close()

			matcher, err := buildTopicMatcher(snap)
			if err != nil {
				return fmt.Errorf("compiling topic matcher: %w", err)
			}

			registry, err := loadSchemaRegistry(snap)
			if err != nil {
				return fmt.Errorf("loading schemas: %w", err)
			}

			var pub interface {
				Start(context.Context) error
				Stop() error
				Publish(topic string, payload []byte, qos byte, retain bool) error
			}
			if !dryRun {
				client := buildPublisher(snap)
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := client.Start(ctx); err != nil {
					return fmt.Errorf("connecting publisher: %w", err)
				}
				defer client.Stop()
				pub = client
			}

			stats := replayStats{}
			ctx := context.Background()
			for _, id := range ids {
				stats.processed++

				record, err := store.Get(ctx, id)
				if err != nil {
					fmt.Printf("%s: not found: %v\n", id, err)
					stats.errors++
					continue
				}

				payload, err := store.ReadPayload(record.PayloadRef)
				if err != nil {
					fmt.Printf("%s: reading payload: %v\n", id, err)
					stats.errors++
					continue
				}

				if !force {
					matched, schemaID := matcher.MatchForClient(record.Topic, record.ClientID)
					if !matched {
						fmt.Printf("%s: still invalid: topic %q no longer matches any pattern\n", id, record.Topic)
						stats.stillBad++
						continue
					}
					if schemaID == "" {
						fmt.Printf("%s: still invalid: %q has no schema binding\n", id, record.Topic)
						stats.stillBad++
						continue
					}
					if verdict, _ := registry.Validate(schemaID, payload); verdict != nil {
						fmt.Printf("%s: still invalid: %v\n", id, describeVerdict(verdict))
						stats.stillBad++
						continue
					}
				}

				if dryRun {
					fmt.Printf("%s: DRY RUN would forward to %s\n", id, record.Topic)
					stats.forwarded++
					continue
				}

				if err := pub.Publish(record.Topic, payload, record.QoS, record.Retain); err != nil {
					fmt.Printf("%s: forwarding: %v\n", id, err)
					stats.errors++
					continue
				}
				fmt.Printf("%s: forwarded to %s\n", id, record.Topic)
				stats.forwarded++
			}

			fmt.Printf("\nprocessed=%d forwarded=%d still_invalid=%d errors=%d\n",
				stats.processed, stats.forwarded, stats.stillBad, stats.errors)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the proxy's YAML configuration file")
	cmd.Flags().StringArrayVar(&ids, "id", nil, "quarantine record id to resend (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "skip re-validation and resend the payload as-is")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "re-validate but do not forward to the broker")
	cmd.MarkFlagRequired("config")

	return cmd
}

func describeVerdict(v *schema.ValidationError) string {
	return v.Error()
}
