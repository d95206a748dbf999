// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package quarantine

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	klzstd "github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	perrors "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/errors"
	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/pool"
)

// Compression names the payload compression codec, matching
// storage.payloads.compression in configuration.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

func (c Compression) extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// gzWriteCloser lets pooled gzip.Writer values be reset onto a new
// destination without reallocating, and satisfies io.Closer for pool.Pool.
type gzWriteCloser struct {
	*gzip.Writer
}

func (g *gzWriteCloser) Close() error {
	return g.Writer.Close()
}

// BlobStore is a content-addressed file tree under a base directory,
// sharded two levels deep by the hex hash to avoid wide directories.
type BlobStore struct {
	root        string
	compression Compression
	gzipPool    *pool.Pool[*gzWriteCloser]
}

// NewBlobStore creates a blob store rooted at dir, creating it if absent.
func NewBlobStore(dir string, compression Compression) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, perrors.New("NewBlobStore", "QuarantineStore", "", dir, err)
	}
	bs := &BlobStore{root: dir, compression: compression}
	if compression == CompressionGzip {
		bs.gzipPool = pool.New(func(ctx context.Context) (*gzWriteCloser, error) {
			return &gzWriteCloser{gzip.NewWriter(io.Discard)}, nil
		}, pool.Config{MaxIdle: 32})
	}
	return bs, nil
}

// Hash returns the content address for a payload: sha256 in hex.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (bs *BlobStore) pathFor(hash string) string {
	return filepath.Join(bs.root, hash[0:2], hash[2:4], hash+bs.compression.extension())
}

// Write performs the store's write protocol: compute the hash, write to a
// temp file in the target shard directory, then atomically rename into
// place (a no-op if the target already exists, since identical payloads
// deduplicate by construction). Returns the content-addressed ref.
func (bs *BlobStore) Write(payload []byte) (ref string, err error) {
	hash := Hash(payload)
	target := bs.pathFor(hash)

	if _, statErr := os.Stat(target); statErr == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", perrors.New("Write", "QuarantineStore", "", hash, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return "", perrors.New("Write", "QuarantineStore", "", hash, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if writeErr := bs.writeCompressed(tmp, payload); writeErr != nil {
		tmp.Close()
		return "", perrors.New("Write", "QuarantineStore", "", hash, writeErr)
	}

	if syncErr := tmp.Sync(); syncErr != nil {
		tmp.Close()
		return "", perrors.New("Write", "QuarantineStore", "", hash, syncErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		return "", perrors.New("Write", "QuarantineStore", "", hash, closeErr)
	}

	if renameErr := os.Rename(tmpName, target); renameErr != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			// Lost a race with another writer of the same content; fine.
			return hash, nil
		}
		return "", perrors.New("Write", "QuarantineStore", "", hash, renameErr)
	}

	return hash, nil
}

func (bs *BlobStore) writeCompressed(dst io.Writer, payload []byte) error {
	switch bs.compression {
	case CompressionGzip:
		item, err := bs.gzipPool.Get(context.Background())
		if err != nil {
			return err
		}
		defer item.Close()
		item.Value.Reset(dst)
		if _, err := item.Value.Write(payload); err != nil {
			return err
		}
		return item.Value.Close()

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

// Read loads and decompresses the payload for a content-addressed ref.
func (bs *BlobStore) Read(ref string) ([]byte, error) {
	f, err := os.Open(bs.pathFor(ref))
	if err != nil {
		return nil, perrors.New("Read", "QuarantineStore", "", ref, err)
	}
	defer f.Close()

	var r io.Reader
	switch bs.compression {
	case CompressionGzip:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case CompressionLZ4:
		r = lz4.NewReader(f)
	case CompressionZstd:
		zr, err := klzstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		r = f
	}

	return io.ReadAll(r)
}

// Unlink removes a blob. Called only by the retention sweep once a ref's
// reference count has reached zero.
func (bs *BlobStore) Unlink(ref string) error {
	err := os.Remove(bs.pathFor(ref))
	if err != nil && !os.IsNotExist(err) {
		return perrors.New("Unlink", "QuarantineStore", "", ref, err)
	}
	return nil
}

// ReapOrphans removes blobs older than grace with no path recorded in
// knownRefs. Handles the case where a Write's rename succeeded but the
// caller's metadata insert then failed.
func (bs *BlobStore) ReapOrphans(knownRefs map[string]bool, grace time.Duration) (int, error) {
	reaped := 0
	cutoff := time.Now().Add(-grace)

	err := filepath.WalkDir(bs.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		hash := hashFromFilename(filepath.Base(path))
		if hash == "" || knownRefs[hash] {
			return nil
		}
		if rmErr := os.Remove(path); rmErr == nil {
			reaped++
		}
		return nil
	})

	return reaped, err
}

func hashFromFilename(name string) string {
	for _, ext := range []string{".gz", ".lz4", ".zst"} {
		if filepath.Ext(name) == ext {
			return name[:len(name)-len(ext)]
		}
	}
	if len(name) == 64 {
		return name
	}
	return ""
}
