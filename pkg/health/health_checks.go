// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ConnState reports whether a BrokerClient is currently connected, without
// pkg/health importing pkg/broker (neither package imports the other).
type ConnState func() bool

// StoreWritable reports whether the quarantine store can currently accept
// writes.
type StoreWritable func(ctx context.Context) bool

// RegisterProxyChecks wires the two checks spec's health endpoint requires:
// both broker clients Connected and the quarantine store writable.
func RegisterProxyChecks(c *Checker, subscriberConnected, publisherConnected ConnState, storeWritable StoreWritable) {
	c.Register("broker.subscriber", func(ctx context.Context) error {
		if !subscriberConnected() {
			return errNotConnected
		}
		return nil
	})
	c.Register("broker.publisher", func(ctx context.Context) error {
		if !publisherConnected() {
			return errNotConnected
		}
		return nil
	})
	c.Register("quarantine.store", func(ctx context.Context) error {
		if !storeWritable(ctx) {
			return errNotWritable
		}
		return nil
	})
}

var (
	errNotConnected = httpError("broker client not connected")
	errNotWritable  = httpError("quarantine store not writable")
)

type httpError string

func (e httpError) Error() string { return string(e) }

// StrictHandler implements spec's exact /health contract: 200 only when
// every registered check passes, 503 otherwise. This differs from
// Checker.HTTPHandler, which treats a degraded (partially failing) status
// as still acceptable for traffic; the proxy's health contract has no
// degraded state, only healthy or not.
func (c *Checker) StrictHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)

		w.Header().Set("Content-Type", "application/json")
		if status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"status": status, "checks": checks})
	}
}

// DetailedHandler returns per-component status as JSON, always with a 200
// so operators can inspect state even while the strict /health is failing.
func (c *Checker) DetailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": checks,
		})
	}
}
