// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package quarantine

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	perrors "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/errors"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/message"
)

// PayloadsDriver selects where blob bytes live, matching
// storage.payloads.driver in configuration.
type PayloadsDriver string

const (
	PayloadsLocal PayloadsDriver = "local"
	PayloadsGCS   PayloadsDriver = "gcs"
)

// Config configures a Store's two planes: the relational metadata index
// and the content-addressed blob tree.
type Config struct {
	Driver            Driver
	DSN               string
	PayloadsDriver    PayloadsDriver
	PayloadsRoot      string
	GCSBucket         string
	Compression       Compression
	CleanupDays       int
	MaxSizeBytes      int64
	OrphanGracePeriod time.Duration
}

// blobStore is the content-addressed payload plane a Store writes through.
// BlobStore (local disk) and gcsBlobStore (Cloud Storage) both implement it.
type blobStore interface {
	Write(payload []byte) (ref string, err error)
	Read(ref string) ([]byte, error)
	Unlink(ref string) error
	ReapOrphans(knownRefs map[string]bool, grace time.Duration) (int, error)
}

// Meta is the metadata half of a QuarantineRecord, everything but the
// payload bytes themselves.
type Meta struct {
	ReceivedAt time.Time
	Topic      string
	ClientID   string
	QoS        byte
	Retain     bool
	Reason     message.Reason
	Detail     string
	SchemaID   string
}

// Store is the QuarantineStore: an append-only metadata index plus a
// content-addressed payload blob store.
type Store struct {
	idx   *index
	blobs blobStore
	cfg   Config
}

// Open opens (creating if necessary) the metadata index and blob tree.
func Open(cfg Config) (*Store, error) {
	if cfg.OrphanGracePeriod == 0 {
		cfg.OrphanGracePeriod = time.Hour
	}

	idx, err := openIndex(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, perrors.New("Open", "QuarantineStore", "", cfg.DSN, err)
	}

	var blobs blobStore
	switch cfg.PayloadsDriver {
	case PayloadsGCS:
		blobs, err = newGCSBlobStore(cfg.GCSBucket, cfg.Compression)
	default:
		blobs, err = NewBlobStore(cfg.PayloadsRoot, cfg.Compression)
	}
	if err != nil {
		idx.close()
		return nil, err
	}

	return &Store{idx: idx, blobs: blobs, cfg: cfg}, nil
}

// Quarantine writes the payload's blob, fsyncs it, then inserts the
// metadata row, and only then returns — callers may rely on post-return
// durability. If the blob write succeeds but the metadata insert fails,
// the blob is left as an orphan for the background reaper to collect.
func (s *Store) Quarantine(ctx context.Context, meta Meta, payload []byte) (string, error) {
	ref, err := s.blobs.Write(payload)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	record := Record{
		ID:            id.String(),
		ReceivedAt:    meta.ReceivedAt,
		QuarantinedAt: time.Now(),
		Topic:         meta.Topic,
		ClientID:      meta.ClientID,
		QoS:           meta.QoS,
		Retain:        meta.Retain,
		Reason:        meta.Reason,
		Detail:        meta.Detail,
		SchemaID:      meta.SchemaID,
		PayloadRef:    ref,
		PayloadSize:   int64(len(payload)),
	}

	if err := s.idx.insert(ctx, record); err != nil {
		return "", perrors.New("Quarantine", "QuarantineStore", record.ID, meta.Topic, err)
	}

	return record.ID, nil
}

// List returns quarantined records matching filter, paginated.
func (s *Store) List(ctx context.Context, filter Filter, page Page) ([]Record, error) {
	return s.idx.list(ctx, filter, page)
}

// Get returns a single record by id, for the replay tool.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	return s.idx.get(ctx, id)
}

// ReadPayload loads and decompresses a record's payload from the blob
// store.
func (s *Store) ReadPayload(ref string) ([]byte, error) {
	return s.blobs.Read(ref)
}

// Purge removes rows older than cutoff, decrementing and reaping blob
// reference counts, and returns the count of rows removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	refs, n, err := s.idx.deleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.reapRefs(ctx, refs)
	return n, nil
}

// Sweep runs the periodic retention pass: purge rows older than
// cleanup_days, then, if the store still exceeds max_size, evict
// oldest-first until it no longer does. Intended to be called on a timer
// by the owning process, not by the Store itself, so the sweep cadence is
// externally controlled and testable in isolation.
func (s *Store) Sweep(ctx context.Context) error {
	if s.cfg.CleanupDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.CleanupDays)
		if _, err := s.Purge(ctx, cutoff); err != nil {
			return err
		}
	}

	if s.cfg.MaxSizeBytes <= 0 {
		return nil
	}

	for {
		st, err := s.idx.stats(ctx)
		if err != nil {
			return err
		}
		if st.TotalPayloadBytes <= s.cfg.MaxSizeBytes {
			return nil
		}
		refs, err := s.idx.deleteOldest(ctx, 100)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		s.reapRefs(ctx, refs)
	}
}

func (s *Store) reapRefs(ctx context.Context, refs []string) {
	for _, ref := range refs {
		count, err := s.idx.countReferences(ctx, ref)
		if err != nil || count > 0 {
			continue
		}
		s.blobs.Unlink(ref)
	}
}

// ReapOrphans removes blobs with no referring metadata row older than the
// configured grace period, covering the write-succeeded-insert-failed gap.
func (s *Store) ReapOrphans(ctx context.Context) (int, error) {
	known := make(map[string]bool)
	records, err := s.idx.list(ctx, Filter{}, Page{Limit: 1 << 30})
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		known[r.PayloadRef] = true
	}
	return s.blobs.ReapOrphans(known, s.cfg.OrphanGracePeriod)
}

// Stats reports counts and sizes for introspection and metrics gauges.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	return s.idx.stats(ctx)
}

// Writable reports whether the store can currently accept writes, the
// signal the health endpoint consults.
func (s *Store) Writable(ctx context.Context) bool {
	return s.idx.ping(ctx) == nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if closer, ok := s.blobs.(io.Closer); ok {
		closer.Close()
	}
	return s.idx.close()
}
