// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func writeTempSchema(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write temp schema: %v", err)
	}
	return path
}

const temperatureSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"deviceId": {"type": "string"},
		"temperature": {"type": "number"}
	},
	"required": ["deviceId", "temperature"],
	"additionalProperties": false
}`

func TestValidateJSONSchemaAcceptsConformingPayload(t *testing.T) {
	path := writeTempSchema(t, temperatureSchema)
	r := NewRegistry()
	err := r.LoadAll(LoadConfig{
		Files: []FileSpec{{ID: "temperature_v1", Kind: KindJSONSchema, SourcePath: path, Draft: "draft-07"}},
		Mode:  ModeStrict,
	})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	verdict, _ := r.Validate("temperature_v1", []byte(`{"deviceId":"TEMP-001","temperature":23.5}`))
	if verdict != nil {
		t.Fatalf("expected valid payload to pass, got %v", verdict)
	}
}

func TestValidateJSONSchemaRejectsTypeMismatch(t *testing.T) {
	path := writeTempSchema(t, temperatureSchema)
	r := NewRegistry()
	if err := r.LoadAll(LoadConfig{
		Files: []FileSpec{{ID: "temperature_v1", Kind: KindJSONSchema, SourcePath: path}},
		Mode:  ModeStrict,
	}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	verdict, _ := r.Validate("temperature_v1", []byte(`{"deviceId":"TEMP-001","temperature":"hot"}`))
	if verdict == nil {
		t.Fatal("expected type mismatch to be rejected")
	}
}

func TestValidateWarnOnlyAlwaysOkButReportsRaw(t *testing.T) {
	path := writeTempSchema(t, temperatureSchema)
	r := NewRegistry()
	if err := r.LoadAll(LoadConfig{
		Files: []FileSpec{{ID: "temperature_v1", Kind: KindJSONSchema, SourcePath: path}},
		Mode:  ModeWarnOnly,
	}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	verdict, raw := r.Validate("temperature_v1", []byte(`{"deviceId":"TEMP-001","temperature":"hot"}`))
	if verdict != nil {
		t.Fatalf("warn_only should always report Ok, got %v", verdict)
	}
	if raw == nil {
		t.Fatal("warn_only should still surface the raw violation for the audit warning")
	}
}

func TestValidateCachesRepeatedPayload(t *testing.T) {
	path := writeTempSchema(t, temperatureSchema)
	r := NewRegistry()
	if err := r.LoadAll(LoadConfig{
		Files:     []FileSpec{{ID: "temperature_v1", Kind: KindJSONSchema, SourcePath: path}},
		Mode:      ModeStrict,
		CacheSize: 10,
	}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	payload := []byte(`{"deviceId":"TEMP-001","temperature":23.5}`)
	r.Validate("temperature_v1", payload)
	if r.cache.Len() != 1 {
		t.Fatalf("expected one cache entry after first validate, got %d", r.cache.Len())
	}
	r.Validate("temperature_v1", payload)
	if r.cache.Len() != 1 {
		t.Fatalf("expected repeated payload to hit cache, not grow it, got %d entries", r.cache.Len())
	}
}

func TestLoadAllPreservesCacheForUnchangedSchemas(t *testing.T) {
	unchangedPath := writeTempSchema(t, temperatureSchema)
	changedPath := writeTempSchema(t, temperatureSchema)

	r := NewRegistry()
	load := func(doc string) error {
		if doc != "" {
			if err := os.WriteFile(changedPath, []byte(doc), 0o600); err != nil {
				t.Fatalf("rewrite schema: %v", err)
			}
		}
		return r.LoadAll(LoadConfig{
			Files: []FileSpec{
				{ID: "unchanged_v1", Kind: KindJSONSchema, SourcePath: unchangedPath},
				{ID: "changed_v1", Kind: KindJSONSchema, SourcePath: changedPath},
			},
			Mode:      ModeStrict,
			CacheSize: 10,
		})
	}
	if err := load(""); err != nil {
		t.Fatalf("initial LoadAll: %v", err)
	}

	payload := []byte(`{"deviceId":"TEMP-001","temperature":23.5}`)
	r.Validate("unchanged_v1", payload)
	r.Validate("changed_v1", payload)
	if r.cache.Len() != 2 {
		t.Fatalf("expected two cache entries before reload, got %d", r.cache.Len())
	}

	// Reload with one schema's file content actually changed; the other
	// schema's binding is recompiled (a fresh *compiled value) but its
	// bytes are identical, so its cache entry must survive.
	looserSchema := `{"type":"object"}`
	if err := load(looserSchema); err != nil {
		t.Fatalf("reload LoadAll: %v", err)
	}

	if _, found := r.cache.Get(cacheKey{schemaID: "unchanged_v1", payloadHash: sha256.Sum256(payload)}); !found {
		t.Fatal("expected unchanged schema's cache entry to survive reload")
	}
	if _, found := r.cache.Get(cacheKey{schemaID: "changed_v1", payloadHash: sha256.Sum256(payload)}); found {
		t.Fatal("expected changed schema's cache entry to be invalidated on reload")
	}
}

func TestGetKindReportsCompiledSchema(t *testing.T) {
	path := writeTempSchema(t, temperatureSchema)
	r := NewRegistry()
	if err := r.LoadAll(LoadConfig{
		Files: []FileSpec{{ID: "temperature_v1", Kind: KindJSONSchema, SourcePath: path}},
	}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	kind, ok := r.GetKind("temperature_v1")
	if !ok || kind != KindJSONSchema {
		t.Fatalf("GetKind = (%v, %v), want (JsonSchema, true)", kind, ok)
	}
	if _, ok := r.GetKind("missing"); ok {
		t.Fatal("expected GetKind for unknown id to report false")
	}
}
