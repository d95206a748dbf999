// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// rotatingFile is an io.WriteCloser that rolls the current audit file into
// a gzip-compressed backup once it exceeds maxBytes, keeping at most
// maxBackups of them.
type rotatingFile struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int

	f    *os.File
	size int64
}

func newRotatingFile(path string, maxBytes int64, maxBackups int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	rf := &rotatingFile{path: path, maxBytes: maxBytes, maxBackups: maxBackups}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rf.f = f
	rf.size = info.Size()
	return nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.maxBytes > 0 && rf.size+int64(len(p)) > rf.maxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *rotatingFile) rotate() error {
	if err := rf.f.Close(); err != nil {
		return err
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	backupPath := fmt.Sprintf("%s.%s.gz", rf.path, stamp)
	if err := compressToFile(rf.path, backupPath); err != nil {
		return err
	}
	if err := os.Remove(rf.path); err != nil {
		return err
	}
	if err := rf.open(); err != nil {
		return err
	}

	return rf.pruneBackups()
}

func compressToFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return dst.Sync()
}

func (rf *rotatingFile) pruneBackups() error {
	if rf.maxBackups <= 0 {
		return nil
	}
	matches, err := filepath.Glob(rf.path + ".*.gz")
	if err != nil {
		return err
	}
	if len(matches) <= rf.maxBackups {
		return nil
	}
	// Glob returns names in lexical order; the timestamp suffix makes that
	// also chronological, so the oldest are simply the leading entries.
	excess := len(matches) - rf.maxBackups
	for _, path := range matches[:excess] {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.f.Close()
}
