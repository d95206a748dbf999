// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message defines the unit of work that flows through the
// governance pipeline and the taxonomy of terminal outcomes it can reach.
package message

import "time"

// Message is the unit of work flowing through the pipeline. It is
// constructed once by the subscriber callback and never mutated afterward;
// pipeline decisions carry additional metadata alongside it, not inside it.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	ClientID   string
	ReceivedAt time.Time
}

// Decision is the terminal state a Message reaches. Every ingested message
// reaches exactly one of these.
type Decision string

const (
	DecisionForwarded Decision = "forwarded"
	DecisionQuarantined Decision = "quarantined"
	DecisionDropped   Decision = "dropped"
)

// Reason enumerates why a message was quarantined or dropped. RateLimited
// and UpstreamUnavailable extend the base taxonomy of spec-listed reasons
// with the two additional per-message outcomes the pipeline's forward and
// rate-limit steps require.
type Reason string

const (
	ReasonTopicNotAllowed      Reason = "TopicNotAllowed"
	ReasonNoSchemaBound        Reason = "NoSchemaBound"
	ReasonSchemaCompileError   Reason = "SchemaCompileError"
	ReasonSchemaValidationError Reason = "SchemaValidationError"
	ReasonPayloadTooLarge      Reason = "PayloadTooLarge"
	ReasonInternalError        Reason = "InternalError"
	ReasonRateLimited          Reason = "RateLimited"
	ReasonUpstreamUnavailable  Reason = "UpstreamUnavailable"
)

// Outcome records what happened to a Message after it left the pipeline,
// the shape both AuditSink and MetricsRegistry consume.
type Outcome struct {
	Message      Message
	Decision     Decision
	Reason       Reason
	Detail       string
	SchemaID     string
	QuarantineID string
	DryRun       bool
	Duration     time.Duration

	// Warning carries a schema violation that warn_only mode downgraded
	// to a non-blocking Decision. Empty on a genuinely valid message.
	Warning string
}
