// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package quarantine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{
		Driver:       DriverEmbedded,
		DSN:          filepath.Join(dir, "quarantine.db"),
		PayloadsRoot: filepath.Join(dir, "payloads"),
		Compression:  CompressionGzip,
		CleanupDays:  30,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuarantineThenListThenPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Quarantine(ctx, Meta{
		ReceivedAt: time.Now(),
		Topic:      "devices/x/telemetry",
		ClientID:   "dev-1",
		Reason:     message.ReasonSchemaValidationError,
		Detail:     "temperature: expected number",
	}, []byte(`{"deviceId":"x","temperature":"hot"}`))
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty record id")
	}

	records, err := s.List(ctx, Filter{}, Page{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("expected one listed record with id %s, got %+v", id, records)
	}

	payload, err := s.ReadPayload(records[0].PayloadRef)
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if string(payload) != `{"deviceId":"x","temperature":"hot"}` {
		t.Fatalf("payload round-trip mismatch: %s", payload)
	}

	n, err := s.Purge(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}

	records, err = s.List(ctx, Filter{}, Page{Limit: 10})
	if err != nil {
		t.Fatalf("List after purge: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records after purge, got %d", len(records))
	}
}

func TestQuarantineDeduplicatesIdenticalPayloads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"a":1}`)

	id1, err := s.Quarantine(ctx, Meta{ReceivedAt: time.Now(), Topic: "t", Reason: message.ReasonTopicNotAllowed}, payload)
	if err != nil {
		t.Fatalf("Quarantine 1: %v", err)
	}
	id2, err := s.Quarantine(ctx, Meta{ReceivedAt: time.Now(), Topic: "t2", Reason: message.ReasonTopicNotAllowed}, payload)
	if err != nil {
		t.Fatalf("Quarantine 2: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct record ids for distinct quarantine events")
	}

	r1, err := s.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	r2, err := s.Get(ctx, id2)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if r1.PayloadRef != r2.PayloadRef {
		t.Fatalf("expected identical payloads to share a payload_ref, got %s and %s", r1.PayloadRef, r2.PayloadRef)
	}
}

func TestStatsCountsByReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Quarantine(ctx, Meta{ReceivedAt: time.Now(), Reason: message.ReasonTopicNotAllowed}, []byte{byte(i)}); err != nil {
			t.Fatalf("Quarantine: %v", err)
		}
	}
	if _, err := s.Quarantine(ctx, Meta{ReceivedAt: time.Now(), Reason: message.ReasonPayloadTooLarge}, []byte("x")); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalRecords != 4 {
		t.Fatalf("expected 4 total records, got %d", st.TotalRecords)
	}
	if st.RecordsByReason[message.ReasonTopicNotAllowed] != 3 {
		t.Fatalf("expected 3 TopicNotAllowed records, got %d", st.RecordsByReason[message.ReasonTopicNotAllowed])
	}
}

func TestWritableReflectsIndexHealth(t *testing.T) {
	s := newTestStore(t)
	if !s.Writable(context.Background()) {
		t.Fatal("expected freshly opened store to be writable")
	}
}
