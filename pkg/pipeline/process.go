// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/breaker"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/quarantine"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/schema"
)

// processOne runs the eight-step per-worker sequence spec §4.5 defines,
// producing exactly one terminal Outcome: forwarded, quarantined, or
// dropped. Validation and the quarantine-store write both run against a
// soft deadline of message_timeout; an overrun drops the message with
// InternalError rather than let a stalled validator or store hang a
// worker indefinitely.
func (p *Pipeline) processOne(msg message.Message) {
	start := time.Now()
	rt := p.current()
	snap := rt.snapshot

	ctx := context.Background()
	if snap.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, snap.MessageTimeout)
		defer cancel()
	}

	outcome := message.Outcome{Message: msg}
	defer func() {
		outcome.Duration = time.Since(start)
		p.finish(outcome)
	}()

	// 1. Size check.
	if len(msg.Payload) > snap.MaxMessageSize {
		outcome.Decision = message.DecisionQuarantined
		outcome.Reason = message.ReasonPayloadTooLarge
		outcome.Detail = "payload exceeds max_message_size"
		p.quarantine(ctx, &outcome)
		return
	}

	// 2 & 3. Topic match plus client rule overlay.
	matched, schemaID := rt.matcher.MatchForClient(msg.Topic, msg.ClientID)
	if !matched {
		outcome.Decision = message.DecisionQuarantined
		outcome.Reason = message.ReasonTopicNotAllowed
		outcome.Detail = "no configured pattern or client rule allows this topic"
		p.quarantine(ctx, &outcome)
		return
	}
	outcome.SchemaID = schemaID

	// 4. Per-client rate limit.
	if snap.RateLimiting.Enabled && !p.allowRate(msg.ClientID) {
		outcome.Decision = message.DecisionQuarantined
		outcome.Reason = message.ReasonRateLimited
		outcome.Detail = "client exceeded configured rate_limit"
		p.quarantine(ctx, &outcome)
		return
	}

	// 5. Schema lookup.
	if schemaID == "" {
		outcome.Decision = message.DecisionQuarantined
		outcome.Reason = message.ReasonNoSchemaBound
		outcome.Detail = "matched pattern has no schema binding"
		p.quarantine(ctx, &outcome)
		return
	}

	// 6. Validate, bounded by the same soft deadline: a hung validator
	// drops the message as InternalError instead of stalling the worker.
	validationStart := time.Now()
	verdict, raw, completed := p.validate(ctx, schemaID, msg.Payload)
	if !completed {
		outcome.Decision = message.DecisionDropped
		outcome.Reason = message.ReasonInternalError
		outcome.Detail = "schema validation exceeded message_timeout"
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveOutcome("dropped")
		}
		return
	}
	validationResult := "valid"
	if verdict != nil {
		validationResult = "invalid"
	} else if raw != nil {
		validationResult = "warned"
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveValidation(schemaID, validationResult, time.Since(validationStart))
	}
	if verdict != nil {
		outcome.Decision = message.DecisionQuarantined
		outcome.Reason = message.ReasonSchemaValidationError
		outcome.Detail = verdict.Error()
		p.quarantine(ctx, &outcome)
		return
	}
	if raw != nil {
		// warn_only downgraded this violation to a pass; still surface it
		// as a warning audit event rather than logging it as clean.
		outcome.Warning = raw.Error()
	}

	// 7. Forward.
	if snap.DryRun {
		outcome.Decision = message.DecisionForwarded
		outcome.DryRun = true
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveOutcome("valid")
		}
		return
	}

	forwardStart := time.Now()
	err := p.forwardCB.Call(func() error {
		return p.deps.Publisher.Publish(msg.Topic, msg.Payload, msg.QoS, msg.Retain)
	})
	forwardStatus := "ok"
	if err != nil {
		forwardStatus = "error"
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveForward(forwardStatus, time.Since(forwardStart))
	}
	if err != nil {
		outcome.Decision = message.DecisionQuarantined
		outcome.Reason = message.ReasonUpstreamUnavailable
		if err == breaker.ErrCircuitOpen {
			outcome.Detail = "publisher circuit breaker open"
		} else {
			outcome.Detail = err.Error()
		}
		p.quarantine(ctx, &outcome)
		return
	}

	outcome.Decision = message.DecisionForwarded
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveOutcome("valid")
	}
}

func (p *Pipeline) allowRate(clientID string) bool {
	if !p.limiter.Allow(clientID) {
		return false
	}
	if p.distLimiter != nil {
		ok, err := p.distLimiter.Allow(context.Background(), clientID)
		if err != nil {
			// A distributed-limiter outage should not itself reject
			// traffic; fall back to the local bucket's verdict.
			return true
		}
		return ok
	}
	return true
}

// validate runs the schema check against the message's soft deadline. It
// returns completed=false if ctx expires before the validator returns; the
// validator itself keeps running in the background and its result is
// discarded, since jsonschema/protobuf validation has no cancellation hook.
func (p *Pipeline) validate(ctx context.Context, schemaID string, payload []byte) (verdict, raw *schema.ValidationError, completed bool) {
	done := make(chan struct{})
	go func() {
		verdict, raw = p.deps.Schemas.Validate(schemaID, payload)
		close(done)
	}()

	select {
	case <-done:
		return verdict, raw, true
	case <-ctx.Done():
		return nil, nil, false
	}
}

func (p *Pipeline) quarantine(ctx context.Context, o *message.Outcome) {
	meta := quarantine.Meta{
		ReceivedAt: o.Message.ReceivedAt,
		Topic:      o.Message.Topic,
		ClientID:   o.Message.ClientID,
		QoS:        o.Message.QoS,
		Retain:     o.Message.Retain,
		Reason:     o.Reason,
		Detail:     o.Detail,
		SchemaID:   o.SchemaID,
	}

	id, err := p.deps.Store.Quarantine(ctx, meta, o.Message.Payload)
	if err != nil {
		o.Decision = message.DecisionDropped
		o.Reason = message.ReasonInternalError
		if ctx.Err() != nil {
			o.Detail = "quarantine store write exceeded message_timeout"
		} else {
			o.Detail = "quarantine store write failed: " + err.Error()
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveOutcome("dropped")
		}
		return
	}

	o.QuarantineID = id
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveOutcome("invalid")
		p.deps.Metrics.ObserveQuarantine(string(o.Reason))
	}
}

func (p *Pipeline) finish(o message.Outcome) {
	p.recordAudit(o)
}
