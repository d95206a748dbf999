// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the proxy core: a bounded work queue and a
// pool of workers that run every ingested Message through topic matching,
// client rules, rate limiting, schema validation, and forwarding, recording
// exactly one terminal outcome per message.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/audit"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/breaker"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/broker"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/metrics"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/quarantine"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/ratelimit"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/schema"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/topic"
)

// runtime bundles everything a hot config reload swaps together: the
// matcher and the config values workers consult at message boundaries.
// Schema reloads are published separately, off the worker path, since the
// registry mutates its own compiled set in place under its own lock.
type runtime struct {
	snapshot *config.Snapshot
	matcher  *topic.Matcher
}

// Deps are the pipeline's already-constructed collaborators. cmd/proxy owns
// their lifecycle (creation, health registration, shutdown); the pipeline
// only drives messages through them.
type Deps struct {
	Subscriber *broker.Client
	Publisher  *broker.Client
	Schemas    *schema.Registry
	Store      *quarantine.Store
	Audit      *audit.Sink
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pipeline is the proxy core.
type Pipeline struct {
	deps Deps

	rt atomic.Pointer[runtime]

	limiter     *ratelimit.Limiter
	distLimiter *ratelimit.DistributedLimiter
	forwardCB   *breaker.CircuitBreaker

	queue chan message.Message

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	droppedBackpressure atomic.Int64
	startedAt            time.Time
}

// New builds a Pipeline from an initial validated Snapshot and a compiled
// Matcher for its topic patterns.
func New(deps Deps, snap *config.Snapshot, matcher *topic.Matcher) *Pipeline {
	p := &Pipeline{
		deps:   deps,
		queue:  make(chan message.Message, snap.MessageBufferSize),
		stopCh: make(chan struct{}),
	}
	p.rt.Store(&runtime{snapshot: snap, matcher: matcher})

	p.limiter = ratelimit.NewLimiter(snap.RateLimiting.Burst, snap.RateLimiting.RateLimit, 100000)
	if snap.RateLimiting.Distributed {
		p.distLimiter = newDistributedLimiterFromAddr(snap.RateLimiting.RedisAddr, snap.RateLimiting.RateLimit, snap.RateLimiting.WindowSize)
	}

	p.forwardCB = breaker.New(breaker.Config{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
	})
	if deps.Metrics != nil {
		p.forwardCB.OnStateChange(func(from, to breaker.State) {
			deps.Logger.Warn("publisher circuit breaker state changed",
				slog.String("from", from.String()), slog.String("to", to.String()))
		})
	}

	return p
}

// Reload atomically publishes a new snapshot and matcher. In-flight
// validations against the previous snapshot are unaffected; only messages
// that have not yet started a worker iteration observe the change.
func (p *Pipeline) Reload(snap *config.Snapshot, matcher *topic.Matcher) {
	p.rt.Store(&runtime{snapshot: snap, matcher: matcher})
}

func (p *Pipeline) current() *runtime {
	return p.rt.Load()
}

// Run subscribes to every configured topic pattern's coverage filter,
// starts the worker pool, and blocks until ctx is cancelled or Stop is
// called, then drains in-flight work up to the snapshot's shutdown_timeout.
func (p *Pipeline) Run(ctx context.Context) error {
	p.startedAt = time.Now()
	rt := p.current()

	p.deps.Subscriber.OnMessage(p.enqueue)
	if err := p.deps.Subscriber.Start(ctx); err != nil {
		return fmt.Errorf("starting subscriber broker client: %w", err)
	}
	if err := p.deps.Publisher.Start(ctx); err != nil {
		return fmt.Errorf("starting publisher broker client: %w", err)
	}

	for _, filter := range coverageFilters(rt.snapshot.TopicPatterns) {
		if err := p.deps.Subscriber.Subscribe(filter, 1); err != nil {
			p.deps.Logger.Warn("subscribe failed", slog.String("filter", filter), slog.String("error", err.Error()))
		}
	}

	workers := rt.snapshot.WorkerThreads
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	<-ctx.Done()
	return p.Stop(rt.snapshot.ShutdownTimeout)
}

// Stop stops accepting new messages and waits up to timeout for in-flight
// workers to finish their current item before returning.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		close(p.queue)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("pipeline shutdown timed out after %s with workers still draining", timeout)
	}
}

// enqueue is the subscriber's MessageHandler. It blocks up to
// message_timeout when the queue is saturated; on timeout the message is
// dropped and counted, matching MQTT's own at-least-once redelivery for
// QoS>0 messages on the client's next reconnect.
func (p *Pipeline) enqueue(topicName string, payload []byte, qos byte, retain bool) {
	rt := p.current()

	msg := message.Message{
		Topic:      topicName,
		Payload:    payload,
		QoS:        qos,
		Retain:     retain,
		ReceivedAt: time.Now(),
	}

	select {
	case p.queue <- msg:
		if p.deps.Metrics != nil {
			p.deps.Metrics.QueueDepth.Set(float64(len(p.queue)))
		}
		return
	default:
	}

	select {
	case p.queue <- msg:
	case <-time.After(rt.snapshot.MessageTimeout):
		p.droppedBackpressure.Add(1)
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveOutcome("dropped")
		}
		p.recordAudit(message.Outcome{
			Message:  msg,
			Decision: message.DecisionDropped,
			Reason:   message.ReasonInternalError,
			Detail:   "work queue saturated past message_timeout",
		})
	case <-p.stopCh:
	}
}

// DroppedBackpressure returns the count of messages dropped because the
// work queue stayed saturated past message_timeout.
func (p *Pipeline) DroppedBackpressure() int64 {
	return p.droppedBackpressure.Load()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.processOne(msg)
	}
}

func (p *Pipeline) recordAudit(o message.Outcome) {
	if p.deps.Audit != nil {
		p.deps.Audit.Record(o)
	}
}

func newDistributedLimiterFromAddr(addr string, limit int64, window time.Duration) *ratelimit.DistributedLimiter {
	if addr == "" {
		return nil
	}
	return ratelimit.NewDistributedLimiter(newRedisClient(addr), limit, window)
}
