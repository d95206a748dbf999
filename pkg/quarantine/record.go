// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package quarantine implements the append-only quarantine store: a
// relational metadata index paired with a content-addressed payload blob
// store, with query, retention, and reference-counted blob reaping.
package quarantine

import (
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
)

// Record is an append-only quarantine row. Never updated after insertion;
// only removed in bulk by a retention sweep.
type Record struct {
	ID            string `db:"id"`
	ReceivedAt    time.Time `db:"received_at"`
	QuarantinedAt time.Time `db:"quarantined_at"`
	Topic         string `db:"topic"`
	ClientID      string `db:"client_id"`
	QoS           byte   `db:"qos"`
	Retain        bool   `db:"retain"`
	Reason        message.Reason `db:"reason"`
	Detail        string `db:"detail"`
	SchemaID      string `db:"schema_id"`
	PayloadRef    string `db:"payload_ref"`
	PayloadSize   int64  `db:"payload_size"`
}

// Filter narrows a List query.
type Filter struct {
	Reason        message.Reason
	Topic         string
	ClientID      string
	Since         time.Time
	Until         time.Time
}

// Page paginates a List query.
type Page struct {
	Limit  int
	Offset int
}

// Stats summarizes the store's current contents, grounded on the
// original implementation's get_statistics operation.
type Stats struct {
	TotalRecords      int64
	RecordsByReason   map[message.Reason]int64
	RecordsLast24h    int64
	TotalPayloadBytes int64
}
