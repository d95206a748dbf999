// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/broker"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/quarantine"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/schema"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/topic"
)

func openStore(snap *config.Snapshot) (*quarantine.Store, error) {
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

	return quarantine.Open(quarantine.Config{
		Driver:            driver,
		DSN:               snap.Quarantine.DSN,
		PayloadsDriver:    payloadsDriver,
		PayloadsRoot:      snap.Payloads.Root,
		GCSBucket:         snap.Payloads.GCSBucket,
		Compression:       compression,
		CleanupDays:       snap.Quarantine.CleanupDays,
		MaxSizeBytes:      snap.Quarantine.MaxSizeBytes,
		OrphanGracePeriod: snap.Quarantine.OrphanGracePeriod,
	})
}

func buildTopicMatcher(snap *config.Snapshot) (*topic.Matcher, error) {
	schemaFor := make(map[string]string, len(snap.SchemaMappings))
	for _, m := range snap.SchemaMappings {
		schemaFor[m.Pattern] = m.SchemaID
	}

	bindings := make([]topic.Binding, 0, len(snap.TopicPatterns))
	for _, p := range snap.TopicPatterns {
		bindings = append(bindings, topic.Binding{Pattern: p, SchemaID: schemaFor[p]})
	}

	clientRules := make(map[string][]string, len(snap.ClientRules))
	for _, cr := range snap.ClientRules {
		clientRules[cr.Prefix] = cr.AllowedTopics
	}

	return topic.Build(bindings, clientRules)
}

func loadSchemaRegistry(snap *config.Snapshot) (*schema.Registry, error) {
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

	registry := schema.NewRegistry()
	if err := registry.LoadAll(schema.LoadConfig{Files: files, Mode: mode, CacheSize: snap.CacheSize}); err != nil {
		return nil, err
	}
	return registry, nil
}

// buildPublisher opens a short-lived publisher-role broker client for
// resending replayed payloads. Callers must Stop it when done.
func buildPublisher(snap *config.Snapshot) *broker.Client {
	kind := broker.TransportTCP
	switch snap.Publisher.Transport {
	case "tls":
		kind = broker.TransportTLS
	case "websocket":
		kind = broker.TransportWebSocket
	}

	cfg := broker.Config{
		Role: broker.RolePublisher,
		Transport: broker.TransportConfig{
			Kind:        kind,
			Address:     snap.Publisher.Address,
			URL:         snap.Publisher.URL,
			TLS:         snap.Publisher.TLS,
			DialTimeout: 10 * time.Second,
		},
		ClientID:      snap.Publisher.ClientID + "-replay",
		Username:      snap.Publisher.Username,
		Password:      snap.Publisher.Password,
		CleanSession:  true,
		KeepAlive:     snap.Publisher.KeepAlive,
		QueueCapacity: 64,
	}
	return broker.New(cfg)
}
