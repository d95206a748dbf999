// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/tls"
	"time"
)

// Snapshot is the validated, defaulted configuration the core packages
// consume. Unlike File it carries resolved durations, parsed TLS configs,
// and no ambiguity between aliased fields.
type Snapshot struct {
	MaxMessageSize  int
	DryRun          bool
	MessageTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string

	Subscriber Broker
	Publisher  Broker

	TopicPatterns  []string
	SchemaMappings []SchemaMapping
	SchemaFiles    []SchemaFile
	ClientRules    []ClientRule
	ValidationMode string
	CacheSize      int

	Quarantine Quarantine
	Payloads   Payloads

	MetricsEnabled bool
	MetricsPort    int
	MetricsPath    string

	HealthCheckEnabled bool
	HealthCheckPort    int

	Audit AuditSettings

	RateLimiting RateLimiting

	WorkerThreads     int
	MessageBufferSize int
}

// Broker is a resolved BrokerClient dial target.
type Broker struct {
	Transport    string
	Address      string
	URL          string
	Path         string
	ClientID     string
	Username     string
	Password     string
	KeepAlive    time.Duration
	CleanSession bool
	TLS          *tls.Config
}

// SchemaMapping binds a topic pattern to a schema id, order preserved from
// the file since first-match-wins precedence depends on it.
type SchemaMapping struct {
	Pattern  string
	SchemaID string
}

// SchemaFile names a schema source to compile.
type SchemaFile struct {
	ID          string
	Kind        string
	Path        string
	Draft       string
	MessageType string
}

// ClientRule restricts a client-id prefix to an allow-list of topics.
type ClientRule struct {
	Prefix        string
	AllowedTopics []string
}

// Quarantine is the resolved metadata index and retention configuration.
type Quarantine struct {
	Driver            string
	DSN               string
	CleanupDays       int
	MaxSizeBytes      int64
	OrphanGracePeriod time.Duration
}

// Payloads is the resolved blob store configuration.
type Payloads struct {
	Root        string
	Compression string
	Driver      string
	GCSBucket   string
}

// AuditSettings is the resolved audit sink configuration.
type AuditSettings struct {
	Destination string
	FilePath    string
	MaxBytes    int64
	MaxBackups  int
	BufferSize  int
}

// RateLimiting is the resolved rate limiter configuration.
type RateLimiting struct {
	Enabled     bool
	RateLimit   int64
	Burst       int64
	WindowSize  time.Duration
	Distributed bool
	RedisAddr   string
}
