// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the governance
// proxy pipeline, broker clients, and quarantine store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the proxy exposes.
type Metrics struct {
	MessagesTotal          *prometheus.CounterVec
	QuarantineRecordsTotal *prometheus.CounterVec
	SchemaValidationsTotal *prometheus.CounterVec
	BrokerReconnectsTotal  *prometheus.CounterVec

	ValidationDuration *prometheus.HistogramVec
	ForwardDuration    *prometheus.HistogramVec

	QueueDepth      prometheus.Gauge
	QuarantineBytes prometheus.Gauge
	BrokerConnected *prometheus.GaugeVec
	UptimeSeconds   prometheus.Gauge
}

// New registers and returns the proxy's metric set under namespace, or
// "mqtt_governance_proxy" if empty.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mqtt_governance_proxy"
	}

	m := &Metrics{
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of messages processed by terminal decision",
			},
			[]string{"status"},
		),
		QuarantineRecordsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quarantine_records_total",
				Help:      "Total number of messages quarantined by reason",
			},
			[]string{"reason"},
		),
		SchemaValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_validations_total",
				Help:      "Total number of schema validations by schema id and result",
			},
			[]string{"schema_id", "result"},
		),
		BrokerReconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_reconnects_total",
				Help:      "Total number of broker reconnect attempts by client role",
			},
			[]string{"role"},
		),
		ValidationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Time spent validating a message payload against its bound schema",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"schema_id"},
		),
		ForwardDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_duration_seconds",
				Help:      "Time spent forwarding a validated message to the publisher broker",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current depth of the pipeline's bounded work queue",
			},
		),
		QuarantineBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quarantine_bytes",
				Help:      "Total bytes currently held in the quarantine blob store",
			},
		),
		BrokerConnected: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broker_connected",
				Help:      "Whether a broker client is currently connected (1) or not (0), by role",
			},
			[]string{"role"},
		),
		UptimeSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since the proxy process started",
			},
		),
	}

	return m
}

// ObserveOutcome records a terminal pipeline decision.
func (m *Metrics) ObserveOutcome(status string) {
	m.MessagesTotal.WithLabelValues(status).Inc()
}

// ObserveQuarantine records a quarantine write by reason.
func (m *Metrics) ObserveQuarantine(reason string) {
	m.QuarantineRecordsTotal.WithLabelValues(reason).Inc()
}

// ObserveValidation records a schema validation attempt and its latency.
func (m *Metrics) ObserveValidation(schemaID, result string, d time.Duration) {
	m.SchemaValidationsTotal.WithLabelValues(schemaID, result).Inc()
	m.ValidationDuration.WithLabelValues(schemaID).Observe(d.Seconds())
}

// ObserveForward records a forward attempt and its latency.
func (m *Metrics) ObserveForward(status string, d time.Duration) {
	m.ForwardDuration.WithLabelValues(status).Observe(d.Seconds())
}

// SetBrokerConnected records a broker client's connection state transition.
func (m *Metrics) SetBrokerConnected(role string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.BrokerConnected.WithLabelValues(role).Set(v)
}

// ObserveReconnect records a broker reconnect attempt.
func (m *Metrics) ObserveReconnect(role string) {
	m.BrokerReconnectsTotal.WithLabelValues(role).Inc()
}
