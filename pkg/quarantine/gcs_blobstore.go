// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package quarantine

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	klzstd "github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	perrors "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/errors"
)

// gcsBlobStore is the Cloud Storage-backed blobStore, selected by
// storage.payloads.driver: gcs. Objects are named identically to the local
// BlobStore's sharded paths so a bucket can be inspected with the same
// mental model as the on-disk tree, even though GCS itself is flat.
type gcsBlobStore struct {
	client      *storage.Client
	bucket      string
	compression Compression
}

func newGCSBlobStore(bucket string, compression Compression) (*gcsBlobStore, error) {
	if bucket == "" {
		return nil, perrors.New("newGCSBlobStore", "QuarantineStore", "", "", errors.New("storage.payloads.gcs_bucket is required for the gcs driver"))
	}

	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, perrors.New("newGCSBlobStore", "QuarantineStore", "", bucket, err)
	}

	return &gcsBlobStore{client: client, bucket: bucket, compression: compression}, nil
}

func (g *gcsBlobStore) objectName(hash string) string {
	return hash[0:2] + "/" + hash[2:4] + "/" + hash + g.compression.extension()
}

// Write uploads the compressed payload if the content-addressed object
// does not already exist, deduplicating identical payloads by construction.
func (g *gcsBlobStore) Write(payload []byte) (string, error) {
	hash := Hash(payload)
	name := g.objectName(hash)
	ctx := context.Background()
	obj := g.client.Bucket(g.bucket).Object(name)

	if _, err := obj.Attrs(ctx); err == nil {
		return hash, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", perrors.New("Write", "QuarantineStore", "", hash, err)
	}

	var buf bytes.Buffer
	if err := g.compress(&buf, payload); err != nil {
		return "", perrors.New("Write", "QuarantineStore", "", hash, err)
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(buf.Bytes()); err != nil {
		w.Close()
		return "", perrors.New("Write", "QuarantineStore", "", hash, err)
	}
	if err := w.Close(); err != nil {
		// A precondition failure here means another writer of the same
		// content won the race; that is not an error for us.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return hash, nil
		}
		return "", perrors.New("Write", "QuarantineStore", "", hash, err)
	}

	return hash, nil
}

func (g *gcsBlobStore) compress(dst io.Writer, payload []byte) error {
	switch g.compression {
	case CompressionGzip:
		w := gzip.NewWriter(dst)
		if _, err := w.Write(payload); err != nil {
			return err
		}
		return w.Close()
	case CompressionLZ4:
		w := lz4.NewWriter(dst)
		if _, err := w.Write(payload); err != nil {
			return err
		}
		return w.Close()
	case CompressionZstd:
		w, err := klzstd.NewWriter(dst)
		if err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		return w.Close()
	default:
		_, err := dst.Write(payload)
		return err
	}
}

// Read downloads and decompresses the object for a content-addressed ref.
func (g *gcsBlobStore) Read(ref string) ([]byte, error) {
	ctx := context.Background()
	rc, err := g.client.Bucket(g.bucket).Object(g.objectName(ref)).NewReader(ctx)
	if err != nil {
		return nil, perrors.New("Read", "QuarantineStore", "", ref, err)
	}
	defer rc.Close()

	var r io.Reader
	switch g.compression {
	case CompressionGzip:
		gr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case CompressionLZ4:
		r = lz4.NewReader(rc)
	case CompressionZstd:
		zr, err := klzstd.NewReader(rc)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		r = rc
	}

	return io.ReadAll(r)
}

// Unlink deletes an object. Called only by the retention sweep once a
// ref's reference count has reached zero.
func (g *gcsBlobStore) Unlink(ref string) error {
	err := g.client.Bucket(g.bucket).Object(g.objectName(ref)).Delete(context.Background())
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return perrors.New("Unlink", "QuarantineStore", "", ref, err)
	}
	return nil
}

// ReapOrphans deletes objects older than grace with no path recorded in
// knownRefs.
func (g *gcsBlobStore) ReapOrphans(knownRefs map[string]bool, grace time.Duration) (int, error) {
	ctx := context.Background()
	cutoff := time.Now().Add(-grace)
	bucket := g.client.Bucket(g.bucket)
	it := bucket.Objects(ctx, nil)

	reaped := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return reaped, perrors.New("ReapOrphans", "QuarantineStore", "", g.bucket, err)
		}
		if attrs.Created.After(cutoff) {
			continue
		}
		hash := hashFromFilename(path.Base(attrs.Name))
		if hash == "" || knownRefs[hash] {
			continue
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err == nil {
			reaped++
		}
	}
	return reaped, nil
}

// Close releases the underlying Cloud Storage client.
func (g *gcsBlobStore) Close() error {
	return g.client.Close()
}
