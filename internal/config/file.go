// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads the proxy's YAML configuration, applies environment
// and CLI overrides, and publishes an immutable Snapshot for the rest of
// the process to read.
package config

import "time"

// File is the on-disk YAML shape. It is never consumed directly outside
// this package; Load converts it into a validated, defaulted Snapshot.
type File struct {
	Global     GlobalFile     `yaml:"global"`
	Brokers    BrokersFile    `yaml:"brokers"`
	Validation ValidationFile `yaml:"validation"`
	Storage    StorageFile    `yaml:"storage"`
	Monitoring MonitoringFile `yaml:"monitoring"`
	Security   SecurityFile   `yaml:"security"`
	Performance PerformanceFile `yaml:"performance"`
}

// GlobalFile holds process-wide knobs.
type GlobalFile struct {
	MaxMessageSize  int           `yaml:"max_message_size"`
	DryRun          bool          `yaml:"dry_run"`
	MessageTimeout  time.Duration `yaml:"message_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`
}

// BrokerFile configures one BrokerClient's dial target and credentials.
type BrokerFile struct {
	Transport    string        `yaml:"transport"` // tcp | tls | websocket
	Address      string        `yaml:"address"`
	URL          string        `yaml:"url"`
	Path         string        `yaml:"path"`
	ClientID     string        `yaml:"client_id"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	KeepAlive    time.Duration `yaml:"keep_alive"`
	CleanSession bool          `yaml:"clean_session"`
	TLS          TLSFile       `yaml:"tls"`
}

// BrokersFile groups the subscriber and publisher BrokerClient configs.
type BrokersFile struct {
	Subscriber BrokerFile `yaml:"subscriber"`
	Publisher  BrokerFile `yaml:"publisher"`
}

// TLSFile configures a broker connection's TLS parameters.
type TLSFile struct {
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
	ServerName string `yaml:"server_name"`
	SkipVerify bool   `yaml:"skip_verify"`
}

// SchemaMappingFile binds one topic pattern to a schema id.
type SchemaMappingFile struct {
	Pattern  string `yaml:"pattern"`
	SchemaID string `yaml:"schema_id"`
}

// SchemaFileFile names one schema source file to compile at load time.
type SchemaFileFile struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"` // json_schema | protobuf
	Path        string `yaml:"path"`
	Draft       string `yaml:"draft"`
	MessageType string `yaml:"message_type"`
}

// ClientRuleFile restricts a client-id prefix to a topic allow-list.
type ClientRuleFile struct {
	Prefix        string   `yaml:"prefix"`
	AllowedTopics []string `yaml:"allowed_topics"`
}

// ValidationFile configures topic matching and schema validation.
type ValidationFile struct {
	TopicPatterns   []string            `yaml:"topic_patterns"`
	SchemaMappings  []SchemaMappingFile `yaml:"schema_mappings"`
	SchemaFiles     []SchemaFileFile    `yaml:"schema_files"`
	ClientRules     []ClientRuleFile    `yaml:"client_rules"`
	ValidationMode  string              `yaml:"validation_mode"` // strict | lenient | warn_only
	CacheSize       int                 `yaml:"cache_size"`
}

// QuarantineFile configures the metadata index and retention policy.
type QuarantineFile struct {
	Driver            string        `yaml:"driver"` // embedded | postgres | mysql
	DSN               string        `yaml:"dsn"`
	CleanupDays       int           `yaml:"cleanup_days"`
	MaxSizeBytes      int64         `yaml:"max_size_bytes"`
	OrphanGracePeriod time.Duration `yaml:"orphan_grace_period"`
}

// PayloadsFile configures the content-addressed blob store.
type PayloadsFile struct {
	Root        string `yaml:"root"`
	Compression string `yaml:"compression"` // none | gzip | lz4 | zstd
	Driver      string `yaml:"driver"`      // local | gcs
	GCSBucket   string `yaml:"gcs_bucket"`
}

// StorageFile groups the quarantine index and payload blob store configs.
type StorageFile struct {
	Quarantine QuarantineFile `yaml:"quarantine"`
	Payloads   PayloadsFile   `yaml:"payloads"`
}

// MetricsFile configures the Prometheus exposition endpoint.
type MetricsFile struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// HealthCheckFile configures the liveness/readiness endpoints.
type HealthCheckFile struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AuditFile configures the audit sink.
type AuditFile struct {
	Destination string `yaml:"destination"` // file | stdout | syslog
	FilePath    string `yaml:"file_path"`
	MaxBytes    int64  `yaml:"max_bytes"`
	MaxBackups  int    `yaml:"max_backups"`
	BufferSize  int    `yaml:"buffer_size"`
}

// MonitoringFile groups observability configuration.
type MonitoringFile struct {
	Metrics     MetricsFile     `yaml:"metrics"`
	HealthCheck HealthCheckFile `yaml:"health_check"`
	Audit       AuditFile       `yaml:"audit"`
}

// RateLimitingFile configures per-client and optionally distributed rate
// limiting.
type RateLimitingFile struct {
	Enabled     bool          `yaml:"enabled"`
	RateLimit   int64         `yaml:"rate_limit"` // messages/sec
	Burst       int64         `yaml:"burst"`
	WindowSize  time.Duration `yaml:"window_size"`
	Distributed bool          `yaml:"distributed"`
	RedisAddr   string        `yaml:"redis_addr"`
}

// SecurityFile groups security-adjacent policy.
type SecurityFile struct {
	RateLimiting RateLimitingFile `yaml:"rate_limiting"`
}

// PerformanceFile groups pipeline concurrency tuning.
type PerformanceFile struct {
	WorkerThreads         int `yaml:"worker_threads"`
	MessageBufferSize     int `yaml:"message_buffer_size"`
	ValidationCacheSize   int `yaml:"validation_cache_size"`
}
