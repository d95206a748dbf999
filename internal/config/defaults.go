// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import "time"

func applyDefaults(f *File) {
	if f.Global.MaxMessageSize == 0 {
		f.Global.MaxMessageSize = 1 << 20 // 1 MiB
	}
	if f.Global.MessageTimeout == 0 {
		f.Global.MessageTimeout = 5 * time.Second
	}
	if f.Global.ShutdownTimeout == 0 {
		f.Global.ShutdownTimeout = 30 * time.Second
	}
	if f.Global.LogLevel == "" {
		f.Global.LogLevel = "info"
	}
	if f.Global.LogFormat == "" {
		f.Global.LogFormat = "json"
	}

	applyBrokerDefaults(&f.Brokers.Subscriber)
	applyBrokerDefaults(&f.Brokers.Publisher)

	if f.Validation.ValidationMode == "" {
		f.Validation.ValidationMode = "strict"
	}
	if f.Validation.CacheSize == 0 {
		f.Validation.CacheSize = 1000
	}

	if f.Storage.Quarantine.Driver == "" {
		f.Storage.Quarantine.Driver = "embedded"
	}
	if f.Storage.Quarantine.DSN == "" {
		f.Storage.Quarantine.DSN = "quarantine.db"
	}
	if f.Storage.Quarantine.CleanupDays == 0 {
		f.Storage.Quarantine.CleanupDays = 30
	}
	if f.Storage.Quarantine.OrphanGracePeriod == 0 {
		f.Storage.Quarantine.OrphanGracePeriod = time.Hour
	}
	if f.Storage.Payloads.Root == "" {
		f.Storage.Payloads.Root = "quarantine-payloads"
	}
	if f.Storage.Payloads.Compression == "" {
		f.Storage.Payloads.Compression = "gzip"
	}
	if f.Storage.Payloads.Driver == "" {
		f.Storage.Payloads.Driver = "local"
	}

	if f.Monitoring.Metrics.Port == 0 {
		f.Monitoring.Metrics.Port = 9090
	}
	if f.Monitoring.Metrics.Path == "" {
		f.Monitoring.Metrics.Path = "/metrics"
	}
	if f.Monitoring.HealthCheck.Port == 0 {
		f.Monitoring.HealthCheck.Port = 8080
	}
	if f.Monitoring.Audit.Destination == "" {
		f.Monitoring.Audit.Destination = "stdout"
	}
	if f.Monitoring.Audit.FilePath == "" {
		f.Monitoring.Audit.FilePath = "logs/audit.jsonl"
	}
	if f.Monitoring.Audit.BufferSize == 0 {
		f.Monitoring.Audit.BufferSize = 4096
	}

	if f.Security.RateLimiting.RateLimit == 0 {
		f.Security.RateLimiting.RateLimit = 100
	}
	if f.Security.RateLimiting.Burst == 0 {
		f.Security.RateLimiting.Burst = f.Security.RateLimiting.RateLimit
	}
	if f.Security.RateLimiting.WindowSize == 0 {
		f.Security.RateLimiting.WindowSize = time.Second
	}

	if f.Performance.WorkerThreads == 0 {
		f.Performance.WorkerThreads = 4
	}
	if f.Performance.MessageBufferSize == 0 {
		f.Performance.MessageBufferSize = 10000
	}
	// performance.validation_cache_size aliases validation.cache_size and
	// takes precedence when set, per the operators' documented ambiguity.
	if f.Performance.ValidationCacheSize != 0 {
		f.Validation.CacheSize = f.Performance.ValidationCacheSize
	}
}

func applyBrokerDefaults(b *BrokerFile) {
	if b.Transport == "" {
		b.Transport = "tcp"
	}
	if b.KeepAlive == 0 {
		b.KeepAlive = 30 * time.Second
	}
}
