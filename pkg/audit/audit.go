// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package audit emits one structured record per terminal pipeline decision,
// asynchronously and without blocking the worker that produced it.
package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
)

// Destination selects where audit records are written.
type Destination string

const (
	DestinationFile   Destination = "file"
	DestinationStdout Destination = "stdout"
	DestinationSyslog Destination = "syslog"
)

// Config configures a Sink.
type Config struct {
	Destination Destination
	FilePath    string
	MaxBytes    int64 // rotate the file once it exceeds this size, 0 disables rotation
	MaxBackups  int
	BufferSize  int // capacity of the async record buffer, default 4096
}

// Sink asynchronously writes one JSON record per Outcome to its
// configured destination. A full buffer drops the oldest queued record
// rather than blocking the caller, so a slow or stalled sink can never
// back up the pipeline.
type Sink struct {
	logger *slog.Logger
	closer io.Closer

	records chan message.Outcome
	done    chan struct{}

	dropped atomic.Int64

	closeOnce sync.Once
}

// NewSink constructs and starts a Sink. Callers must call Close on shutdown
// to flush and release the underlying writer.
func NewSink(cfg Config) (*Sink, error) {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}

	var (
		w      io.Writer
		closer io.Closer
	)

	switch cfg.Destination {
	case DestinationStdout, "":
		w = os.Stdout
	case DestinationFile:
		rf, err := newRotatingFile(cfg.FilePath, cfg.MaxBytes, cfg.MaxBackups)
		if err != nil {
			return nil, err
		}
		w = rf
		closer = rf
	case DestinationSyslog:
		sw, err := newSyslogWriter()
		if err != nil {
			return nil, err
		}
		w = sw
		closer = sw
	default:
		return nil, errUnknownDestination(cfg.Destination)
	}

	s := &Sink{
		logger:  slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
		closer:  closer,
		records: make(chan message.Outcome, bufSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Record enqueues an outcome for asynchronous logging. It never blocks: if
// the buffer is saturated the oldest queued record is dropped to make room.
func (s *Sink) Record(o message.Outcome) {
	select {
	case s.records <- o:
		return
	default:
	}

	// Buffer full: drop the oldest queued record and retry once.
	select {
	case <-s.records:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.records <- o:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of records dropped because the buffer was
// saturated since the sink started.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Sink) run() {
	defer close(s.done)
	for o := range s.records {
		s.write(o)
	}
}

func (s *Sink) write(o message.Outcome) {
	attrs := []slog.Attr{
		slog.String("decision", string(o.Decision)),
		slog.String("topic", o.Message.Topic),
		slog.String("client_id", o.Message.ClientID),
		slog.Int64("duration_us", o.Duration.Microseconds()),
	}
	if o.SchemaID != "" {
		attrs = append(attrs, slog.String("schema_id", o.SchemaID))
	}
	if o.Reason != "" {
		attrs = append(attrs, slog.String("reason", string(o.Reason)))
	}
	if o.Detail != "" {
		attrs = append(attrs, slog.String("detail", o.Detail))
	}
	if o.QuarantineID != "" {
		attrs = append(attrs, slog.String("quarantine_id", o.QuarantineID))
	}
	if o.DryRun {
		attrs = append(attrs, slog.Bool("dry_run", true))
	}
	if o.Warning != "" {
		attrs = append(attrs, slog.String("warning", o.Warning))
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "message_outcome", attrs...)
		return
	}

	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "message_outcome", attrs...)
}

// Close stops accepting new records, drains the buffer, and releases the
// underlying writer.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.records)
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
		}
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

type errUnknownDestination Destination

func (e errUnknownDestination) Error() string {
	return "audit: unknown destination " + string(e)
}
