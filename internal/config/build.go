// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import "crypto/tls"

func buildSnapshot(f *File) (*Snapshot, error) {
	subTLS, err := buildTLSConfig(f.Brokers.Subscriber.TLS)
	if err != nil {
		return nil, invalid("brokers.subscriber.tls: " + err.Error())
	}
	pubTLS, err := buildTLSConfig(f.Brokers.Publisher.TLS)
	if err != nil {
		return nil, invalid("brokers.publisher.tls: " + err.Error())
	}

	s := &Snapshot{
		MaxMessageSize:  f.Global.MaxMessageSize,
		DryRun:          f.Global.DryRun,
		MessageTimeout:  f.Global.MessageTimeout,
		ShutdownTimeout: f.Global.ShutdownTimeout,
		LogLevel:        f.Global.LogLevel,
		LogFormat:       f.Global.LogFormat,

		Subscriber: buildBroker(f.Brokers.Subscriber, subTLS),
		Publisher:  buildBroker(f.Brokers.Publisher, pubTLS),

		TopicPatterns:  f.Validation.TopicPatterns,
		ValidationMode: f.Validation.ValidationMode,
		CacheSize:      f.Validation.CacheSize,

		Quarantine: Quarantine{
			Driver:            f.Storage.Quarantine.Driver,
			DSN:               f.Storage.Quarantine.DSN,
			CleanupDays:       f.Storage.Quarantine.CleanupDays,
			MaxSizeBytes:      f.Storage.Quarantine.MaxSizeBytes,
			OrphanGracePeriod: f.Storage.Quarantine.OrphanGracePeriod,
		},
		Payloads: Payloads{
			Root:        f.Storage.Payloads.Root,
			Compression: f.Storage.Payloads.Compression,
			Driver:      f.Storage.Payloads.Driver,
			GCSBucket:   f.Storage.Payloads.GCSBucket,
		},

		MetricsEnabled: f.Monitoring.Metrics.Enabled,
		MetricsPort:    f.Monitoring.Metrics.Port,
		MetricsPath:    f.Monitoring.Metrics.Path,

		HealthCheckEnabled: f.Monitoring.HealthCheck.Enabled,
		HealthCheckPort:    f.Monitoring.HealthCheck.Port,

		Audit: AuditSettings{
			Destination: f.Monitoring.Audit.Destination,
			FilePath:    f.Monitoring.Audit.FilePath,
			MaxBytes:    f.Monitoring.Audit.MaxBytes,
			MaxBackups:  f.Monitoring.Audit.MaxBackups,
			BufferSize:  f.Monitoring.Audit.BufferSize,
		},

		RateLimiting: RateLimiting{
			Enabled:     f.Security.RateLimiting.Enabled,
			RateLimit:   f.Security.RateLimiting.RateLimit,
			Burst:       f.Security.RateLimiting.Burst,
			WindowSize:  f.Security.RateLimiting.WindowSize,
			Distributed: f.Security.RateLimiting.Distributed,
			RedisAddr:   f.Security.RateLimiting.RedisAddr,
		},

		WorkerThreads:     f.Performance.WorkerThreads,
		MessageBufferSize: f.Performance.MessageBufferSize,
	}

	for _, m := range f.Validation.SchemaMappings {
		s.SchemaMappings = append(s.SchemaMappings, SchemaMapping{Pattern: m.Pattern, SchemaID: m.SchemaID})
	}
	for _, sf := range f.Validation.SchemaFiles {
		kind := sf.Kind
		if kind == "" {
			kind = "json_schema"
		}
		s.SchemaFiles = append(s.SchemaFiles, SchemaFile{ID: sf.ID, Kind: kind, Path: sf.Path, Draft: sf.Draft, MessageType: sf.MessageType})
	}
	for _, cr := range f.Validation.ClientRules {
		s.ClientRules = append(s.ClientRules, ClientRule{Prefix: cr.Prefix, AllowedTopics: cr.AllowedTopics})
	}

	return s, nil
}

func buildBroker(b BrokerFile, tlsCfg *tls.Config) Broker {
	return Broker{
		Transport:    b.Transport,
		Address:      b.Address,
		URL:          b.URL,
		Path:         b.Path,
		ClientID:     b.ClientID,
		Username:     b.Username,
		Password:     b.Password,
		KeepAlive:    b.KeepAlive,
		CleanSession: b.CleanSession,
		TLS:          tlsCfg,
	}
}
