// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/audit"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/broker"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/quarantine"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/schema"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/topic"
)

const testTemperatureSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"deviceId": {"type": "string"},
		"temperature": {"type": "number"}
	},
	"required": ["deviceId", "temperature"]
}`

// testPipeline wires a Pipeline against a real, disposable quarantine store
// and schema registry, and unconnected broker clients — enough to exercise
// every quarantine branch of processOne plus the dry-run forward path,
// without a live MQTT broker.
func testPipeline(t *testing.T, snap *config.Snapshot) *Pipeline {
	t.Helper()
	dir := t.TempDir()

	schemaPath := filepath.Join(dir, "temperature.json")
	if err := os.WriteFile(schemaPath, []byte(testTemperatureSchema), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	registry := schema.NewRegistry()
	if err := registry.LoadAll(schema.LoadConfig{
		Files: []schema.FileSpec{{ID: "temperature_v1", Kind: schema.KindJSONSchema, SourcePath: schemaPath}},
		Mode:  schema.ModeStrict,
	}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	store, err := quarantine.Open(quarantine.Config{
		Driver:       quarantine.DriverEmbedded,
		DSN:          filepath.Join(dir, "quarantine.db"),
		PayloadsRoot: filepath.Join(dir, "payloads"),
		Compression:  quarantine.CompressionNone,
	})
	if err != nil {
		t.Fatalf("quarantine.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	matcher, err := topic.Build([]topic.Binding{
		{Pattern: "devices/+/telemetry", SchemaID: "temperature_v1"},
		{Pattern: "devices/+/unbound", SchemaID: ""},
	}, nil)
	if err != nil {
		t.Fatalf("topic.Build: %v", err)
	}

	sub := broker.New(broker.Config{Role: broker.RoleSubscriber, Transport: broker.TransportConfig{Kind: broker.TransportTCP, Address: "127.0.0.1:0"}})
	pub := broker.New(broker.Config{Role: broker.RolePublisher, Transport: broker.TransportConfig{Kind: broker.TransportTCP, Address: "127.0.0.1:0"}})

	auditSink, err := audit.NewSink(audit.Config{Destination: audit.DestinationStdout, BufferSize: 64})
	if err != nil {
		t.Fatalf("audit.NewSink: %v", err)
	}
	t.Cleanup(func() { auditSink.Close() })

	if snap.MessageBufferSize == 0 {
		snap.MessageBufferSize = 16
	}
	if snap.RateLimiting.RateLimit == 0 {
		snap.RateLimiting.RateLimit = 1000
	}

	return New(Deps{
		Subscriber: sub,
		Publisher:  pub,
		Schemas:    registry,
		Store:      store,
		Audit:      auditSink,
	}, snap, matcher)
}

func quarantinedReason(t *testing.T, p *Pipeline, msg message.Message) message.Reason {
	t.Helper()
	p.processOne(msg)

	records, err := p.deps.Store.List(context.Background(), quarantine.Filter{Topic: msg.Topic}, quarantine.Page{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected message on topic %q to be quarantined, found no record", msg.Topic)
	}
	return records[0].Reason
}

func TestProcessOneQuarantinesOversizedPayload(t *testing.T) {
	p := testPipeline(t, &config.Snapshot{MaxMessageSize: 8})
	got := quarantinedReason(t, p, message.Message{Topic: "devices/x/telemetry", Payload: []byte("this payload is far too long")})
	if got != message.ReasonPayloadTooLarge {
		t.Fatalf("Reason = %s, want PayloadTooLarge", got)
	}
}

func TestProcessOneQuarantinesUnmatchedTopic(t *testing.T) {
	p := testPipeline(t, &config.Snapshot{MaxMessageSize: 1 << 20})
	got := quarantinedReason(t, p, message.Message{Topic: "unmapped/topic", Payload: []byte("{}")})
	if got != message.ReasonTopicNotAllowed {
		t.Fatalf("Reason = %s, want TopicNotAllowed", got)
	}
}

func TestProcessOneQuarantinesNoSchemaBound(t *testing.T) {
	p := testPipeline(t, &config.Snapshot{MaxMessageSize: 1 << 20})
	got := quarantinedReason(t, p, message.Message{Topic: "devices/x/unbound", Payload: []byte("{}")})
	if got != message.ReasonNoSchemaBound {
		t.Fatalf("Reason = %s, want NoSchemaBound", got)
	}
}

func TestProcessOneQuarantinesSchemaViolation(t *testing.T) {
	p := testPipeline(t, &config.Snapshot{MaxMessageSize: 1 << 20})
	got := quarantinedReason(t, p, message.Message{
		Topic:   "devices/x/telemetry",
		Payload: []byte(`{"deviceId":"x","temperature":"hot"}`),
	})
	if got != message.ReasonSchemaValidationError {
		t.Fatalf("Reason = %s, want SchemaValidationError", got)
	}
}

func TestProcessOneDryRunForwardsWithoutPublishing(t *testing.T) {
	p := testPipeline(t, &config.Snapshot{MaxMessageSize: 1 << 20, DryRun: true})
	msg := message.Message{Topic: "devices/x/telemetry", Payload: []byte(`{"deviceId":"x","temperature":21.5}`)}

	p.processOne(msg)

	records, err := p.deps.Store.List(context.Background(), quarantine.Filter{Topic: msg.Topic}, quarantine.Page{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected a valid dry-run message not to be quarantined, got %+v", records)
	}
}

func TestProcessOneRateLimitUsesBurstAsCapacity(t *testing.T) {
	// A slow refill rate (1/s) with a burst of 3 means the first three
	// messages from a client drain the bucket but are not themselves
	// rate-limited; only the fourth, arriving before any refill, is.
	p := testPipeline(t, &config.Snapshot{
		MaxMessageSize: 1 << 20,
		RateLimiting:   config.RateLimiting{Enabled: true, RateLimit: 1, Burst: 3},
	})
	// Each message carries a distinct device id (same client id, so the
	// same rate bucket, but a distinct topic) so a List-by-topic lookup
	// never has to disambiguate same-millisecond quarantine rows left by
	// an earlier iteration.
	msgFor := func(device string) message.Message {
		return message.Message{
			ClientID: "burst-client",
			Topic:    "devices/" + device + "/telemetry",
			Payload:  []byte(`{"deviceId":"x","temperature":21.5}`),
		}
	}

	for i := 0; i < 3; i++ {
		got := quarantinedReason(t, p, msgFor(fmt.Sprintf("burst-%d", i)))
		if got == message.ReasonRateLimited {
			t.Fatalf("message %d: unexpectedly rate-limited within burst capacity", i)
		}
	}

	got := quarantinedReason(t, p, msgFor("burst-3"))
	if got != message.ReasonRateLimited {
		t.Fatalf("4th message: Reason = %s, want RateLimited once burst capacity is exhausted", got)
	}
}

func TestProcessOneQuarantinesWhenUpstreamUnavailable(t *testing.T) {
	p := testPipeline(t, &config.Snapshot{MaxMessageSize: 1 << 20})
	msg := message.Message{Topic: "devices/x/telemetry", Payload: []byte(`{"deviceId":"x","temperature":21.5}`)}

	got := quarantinedReason(t, p, msg)
	if got != message.ReasonUpstreamUnavailable {
		t.Fatalf("Reason = %s, want UpstreamUnavailable (publisher never connected)", got)
	}
}
