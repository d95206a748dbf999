// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
brokers:
  subscriber:
    transport: tcp
    address: 127.0.0.1:1883
  publisher:
    transport: tcp
    address: 127.0.0.1:1883
validation:
  topic_patterns:
    - "devices/+/telemetry"
  schema_mappings:
    - pattern: "devices/+/telemetry"
      schema_id: telemetry-v1
  schema_files:
    - id: telemetry-v1
      path: schemas/telemetry.json
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	snap, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if snap.MaxMessageSize != 1024*1024 {
		t.Errorf("MaxMessageSize = %d, want 1MiB default", snap.MaxMessageSize)
	}
	if snap.ValidationMode != "strict" {
		t.Errorf("ValidationMode = %q, want strict default", snap.ValidationMode)
	}
	if snap.Quarantine.Driver != "embedded" {
		t.Errorf("Quarantine.Driver = %q, want embedded default", snap.Quarantine.Driver)
	}
	if snap.WorkerThreads != 4 {
		t.Errorf("WorkerThreads = %d, want 4 default", snap.WorkerThreads)
	}
	if len(snap.TopicPatterns) != 1 || snap.TopicPatterns[0] != "devices/+/telemetry" {
		t.Errorf("TopicPatterns = %v, want the one configured pattern", snap.TopicPatterns)
	}
}

func TestValidationCacheSizeAliasTakesPrecedence(t *testing.T) {
	yaml := `
brokers:
  subscriber:
    transport: tcp
    address: 127.0.0.1:1883
  publisher:
    transport: tcp
    address: 127.0.0.1:1883
validation:
  topic_patterns:
    - "devices/+/telemetry"
  schema_mappings:
    - pattern: "devices/+/telemetry"
      schema_id: telemetry-v1
  schema_files:
    - id: telemetry-v1
      path: schemas/telemetry.json
  cache_size: 500
performance:
  validation_cache_size: 2000
`
	path := writeConfig(t, yaml)

	snap, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.CacheSize != 2000 {
		t.Errorf("CacheSize = %d, want performance.validation_cache_size (2000) to win", snap.CacheSize)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	snap, err := Load(path, []string{"global.dry_run=true", "performance.worker_threads=8"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.DryRun {
		t.Error("expected global.dry_run=true override to apply")
	}
	if snap.WorkerThreads != 8 {
		t.Errorf("WorkerThreads = %d, want 8 from override", snap.WorkerThreads)
	}
}

func TestLoadRejectsUnknownOverrideKey(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	if _, err := Load(path, []string{"nonsense.key=1"}); err == nil {
		t.Fatal("expected an error for an unknown override key")
	}
}

func TestLoadRejectsSchemaMappingToUnknownSchema(t *testing.T) {
	yaml := `
brokers:
  subscriber:
    transport: tcp
    address: 127.0.0.1:1883
  publisher:
    transport: tcp
    address: 127.0.0.1:1883
validation:
  topic_patterns:
    - "devices/+/telemetry"
  schema_mappings:
    - pattern: "devices/+/telemetry"
      schema_id: missing-schema
`
	path := writeConfig(t, yaml)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error for a schema_mapping referencing an undefined schema_id")
	}
}

func TestLoadRejectsMalformedTopicPattern(t *testing.T) {
	yaml := `
brokers:
  subscriber:
    transport: tcp
    address: 127.0.0.1:1883
  publisher:
    transport: tcp
    address: 127.0.0.1:1883
validation:
  topic_patterns:
    - "a/#/b"
`
	path := writeConfig(t, yaml)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error for a malformed topic pattern")
	}
}

func TestLoadRejectsMissingBrokerAddress(t *testing.T) {
	yaml := `
brokers:
  subscriber:
    transport: tcp
  publisher:
    transport: tcp
    address: 127.0.0.1:1883
`
	path := writeConfig(t, yaml)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error when a tcp broker has no address")
	}
}

func TestStoreSwapReplacesSnapshotAtomically(t *testing.T) {
	first := &Snapshot{WorkerThreads: 1}
	second := &Snapshot{WorkerThreads: 2}

	s := NewStore(first)
	if s.Current().WorkerThreads != 1 {
		t.Fatalf("Current() = %d, want 1", s.Current().WorkerThreads)
	}

	old := s.Swap(second)
	if old.WorkerThreads != 1 {
		t.Errorf("Swap returned %d, want the previous snapshot (1)", old.WorkerThreads)
	}
	if s.Current().WorkerThreads != 2 {
		t.Errorf("Current() after Swap = %d, want 2", s.Current().WorkerThreads)
	}
}
