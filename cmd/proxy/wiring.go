// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/audit"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/broker"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/health"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/metrics"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/pipeline"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/quarantine"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/schema"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/topic"
)

// app bundles the fully-wired components a running proxy process owns.
type app struct {
	pipeline *pipeline.Pipeline
	store    *quarantine.Store
	schemas  *schema.Registry
	subs     *broker.Client
	pub      *broker.Client
	audit    *audit.Sink
	metrics  *metrics.Metrics
	health   *health.Checker
	logger   *slog.Logger
}

func buildApp(snap *config.Snapshot, logger *slog.Logger) (*app, error) {
	matcher, err := buildMatcher(snap)
	if err != nil {
		return nil, fmt.Errorf("compiling topic matcher: %w", err)
	}

	registry := schema.NewRegistry()
	if err := registry.LoadAll(schemaLoadConfig(snap)); err != nil {
		return nil, fmt.Errorf("loading schemas: %w", err)
	}

	store, err := quarantine.Open(quarantineConfig(snap))
	if err != nil {
		return nil, fmt.Errorf("opening quarantine store: %w", err)
	}

	auditSink, err := audit.NewSink(audit.Config{
		Destination: audit.Destination(snap.Audit.Destination),
		FilePath:    snap.Audit.FilePath,
		MaxBytes:    snap.Audit.MaxBytes,
		MaxBackups:  snap.Audit.MaxBackups,
		BufferSize:  snap.Audit.BufferSize,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening audit sink: %w", err)
	}

	m := metrics.New("mqtt_governance_proxy")
	healthChecker := health.NewChecker(10 * time.Second)

	sub := broker.New(brokerConfig(broker.RoleSubscriber, snap.Subscriber, snap.MessageBufferSize, logger))
	pub := broker.New(brokerConfig(broker.RolePublisher, snap.Publisher, snap.MessageBufferSize, logger))

	sub.OnStateChange(func(from, to broker.State) {
		m.SetBrokerConnected("subscriber", to == broker.StateConnected)
		if to == broker.StateReconnecting {
			m.ObserveReconnect("subscriber")
		}
	})
	pub.OnStateChange(func(from, to broker.State) {
		m.SetBrokerConnected("publisher", to == broker.StateConnected)
		if to == broker.StateReconnecting {
			m.ObserveReconnect("publisher")
		}
	})

	health.RegisterProxyChecks(healthChecker, sub.Connected, pub.Connected, store.Writable)

	pl := pipeline.New(pipeline.Deps{
		Subscriber: sub,
		Publisher:  pub,
		Schemas:    registry,
		Store:      store,
		Audit:      auditSink,
		Metrics:    m,
		Logger:     logger,
	}, snap, matcher)

	return &app{
		pipeline: pl,
		store:    store,
		schemas:  registry,
		subs:     sub,
		pub:      pub,
		audit:    auditSink,
		metrics:  m,
		health:   healthChecker,
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	a.subs.Stop()
	a.pub.Stop()
	a.audit.Close()
	a.store.Close()
}

// Reload re-reads configuration from disk, recompiles the topic matcher,
// reloads schemas off the worker path, and atomically publishes the new
// snapshot to the running pipeline. On any error the previous configuration
// keeps running unchanged.
func (a *app) Reload(configPath string, fileOverrides []string) error {
	snap, err := config.Load(configPath, fileOverrides)
	if err != nil {
		return fmt.Errorf("reloading configuration: %w", err)
	}

	matcher, err := buildMatcher(snap)
	if err != nil {
		return fmt.Errorf("recompiling topic matcher: %w", err)
	}

	if err := a.schemas.LoadAll(schemaLoadConfig(snap)); err != nil {
		return fmt.Errorf("reloading schemas: %w", err)
	}

	a.pipeline.Reload(snap, matcher)
	return nil
}

// retentionInterval scales the quarantine store's background sweep cadence
// to cleanup_days so a short retention window is enforced promptly and a
// long one doesn't poll needlessly, bounded to [5m, 24h].
func retentionInterval(cleanupDays int) time.Duration {
	if cleanupDays <= 0 {
		return time.Hour
	}
	interval := time.Duration(cleanupDays) * 24 * time.Hour / 4
	if interval < 5*time.Minute {
		return 5 * time.Minute
	}
	if interval > 24*time.Hour {
		return 24 * time.Hour
	}
	return interval
}

// runRetentionSweeper enforces the quarantine store's cleanup_days/max_size
// ceiling and reaps orphaned blobs on a ticker until ctx is cancelled.
func runRetentionSweeper(ctx context.Context, store *quarantine.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Sweep(ctx); err != nil {
				logger.Warn("quarantine sweep failed", slog.String("error", err.Error()))
			}
			n, err := store.ReapOrphans(ctx)
			if err != nil {
				logger.Warn("orphan blob reap failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("reaped orphaned quarantine blobs", slog.Int("count", n))
			}
		}
	}
}

func buildMatcher(snap *config.Snapshot) (*topic.Matcher, error) {
	bindings := make([]topic.Binding, 0, len(snap.TopicPatterns))
	schemaFor := make(map[string]string, len(snap.SchemaMappings))
	for _, m := range snap.SchemaMappings {
		schemaFor[m.Pattern] = m.SchemaID
	}
	for _, p := range snap.TopicPatterns {
		bindings = append(bindings, topic.Binding{Pattern: p, SchemaID: schemaFor[p]})
	}

	clientRules := make(map[string][]string, len(snap.ClientRules))
	for _, cr := range snap.ClientRules {
		clientRules[cr.Prefix] = cr.AllowedTopics
	}

	return topic.Build(bindings, clientRules)
}

func schemaLoadConfig(snap *config.Snapshot) schema.LoadConfig {
	files := make([]schema.FileSpec, 0, len(snap.SchemaFiles))
	for _, f := range snap.SchemaFiles {
		kind := schema.KindJSONSchema
		if f.Kind == "protobuf" {
			kind = schema.KindProtobuf
		}
		files = append(files, schema.FileSpec{
			ID:          f.ID,
			Kind:        kind,
			SourcePath:  f.Path,
			Draft:       f.Draft,
			MessageType: f.MessageType,
		})
	}

	mode := schema.ModeStrict
	switch snap.ValidationMode {
	case "lenient":
		mode = schema.ModeLenient
	case "warn_only":
		mode = schema.ModeWarnOnly
	}

	return schema.LoadConfig{Files: files, Mode: mode, CacheSize: snap.CacheSize}
}

func quarantineConfig(snap *config.Snapshot) quarantine.Config {
	driver := quarantine.DriverEmbedded
	switch snap.Quarantine.Driver {
	case "postgres":
		driver = quarantine.DriverPostgres
	case "mysql":
		driver = quarantine.DriverMySQL
	}

	compression := quarantine.CompressionGzip
	switch snap.Payloads.Compression {
	case "none":
		compression = quarantine.CompressionNone
	case "lz4":
		compression = quarantine.CompressionLZ4
	case "zstd":
		compression = quarantine.CompressionZstd
	}

	payloadsDriver := quarantine.PayloadsLocal
	if snap.Payloads.Driver == "gcs" {
		payloadsDriver = quarantine.PayloadsGCS
	}

	return quarantine.Config{
		Driver:            driver,
		DSN:               snap.Quarantine.DSN,
		PayloadsDriver:    payloadsDriver,
		PayloadsRoot:      snap.Payloads.Root,
		GCSBucket:         snap.Payloads.GCSBucket,
		Compression:       compression,
		CleanupDays:       snap.Quarantine.CleanupDays,
		MaxSizeBytes:      snap.Quarantine.MaxSizeBytes,
		OrphanGracePeriod: snap.Quarantine.OrphanGracePeriod,
	}
}

func brokerConfig(role broker.Role, b config.Broker, queueCap int, logger *slog.Logger) broker.Config {
	kind := broker.TransportTCP
	switch b.Transport {
	case "tls":
		kind = broker.TransportTLS
	case "websocket":
		kind = broker.TransportWebSocket
	}

	return broker.Config{
		Role: role,
		Transport: broker.TransportConfig{
			Kind:        kind,
			Address:     b.Address,
			URL:         b.URL,
			TLS:         b.TLS,
			DialTimeout: 10 * time.Second,
		},
		ClientID:      b.ClientID,
		Username:      b.Username,
		Password:      b.Password,
		CleanSession:  b.CleanSession,
		KeepAlive:     b.KeepAlive,
		QueueCapacity: queueCap,
		Logger:        logger,
	}
}
