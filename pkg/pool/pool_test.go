// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"testing"
)

type fakeResource struct {
	closed bool
}

func (f *fakeResource) Close() error {
	f.closed = true
	return nil
}

func TestPoolReusesReturnedResource(t *testing.T) {
	created := 0
	p := New(func(ctx context.Context) (*fakeResource, error) {
		created++
		return &fakeResource{}, nil
	}, Config{MaxIdle: 2})
	defer p.Close()

	ctx := context.Background()

	item, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := item.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	item2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item2.Value.closed {
		t.Fatal("reused item should not have been closed")
	}
	if created != 1 {
		t.Fatalf("expected exactly one resource created, got %d", created)
	}
}

func TestPoolExhaustedWithoutWait(t *testing.T) {
	p := New(func(ctx context.Context) (*fakeResource, error) {
		return &fakeResource{}, nil
	}, Config{MaxActive: 1})
	defer p.Close()

	ctx := context.Background()
	if _, err := p.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := p.Get(ctx); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestPoolGetAfterCloseFails(t *testing.T) {
	p := New(func(ctx context.Context) (*fakeResource, error) {
		return &fakeResource{}, nil
	}, Config{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Get(context.Background()); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}
