// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package cache

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestVectorKey(t *testing.T) {
	t.Parallel()

	if VectorKey("ab", "c") == VectorKey("a", "bc") {
		t.Error("part boundaries must change the key")
	}
	if VectorKey("hash", "384", "car") != VectorKey("hash", "384", "car") {
		t.Error("keys must be deterministic")
	}
	if got := len(VectorKey("x")); got != 64 {
		t.Errorf("key length = %d, want 64 hex chars", got)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	t.Parallel()

	in := []float64{0, -1.5, 3.25, 1e-9}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if !slices.Equal(in, out) {
		t.Errorf("got %v, want %v", out, in)
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptVector) {
		t.Errorf("DecodeVector(short) error = %v, want ErrCorruptVector", err)
	}
}

func TestVectorStores(t *testing.T) {
	t.Parallel()

	badgerStore, err := OpenBadgerVectorStore("", time.Hour)
	if err != nil {
		t.Fatalf("OpenBadgerVectorStore() error = %v", err)
	}
	t.Cleanup(func() { _ = badgerStore.Close() })

	stores := map[string]VectorStore{
		"memory": NewMemoryVectorStore(10, time.Hour),
		"badger": badgerStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("Get(missing) = ok %v err %v, want miss", ok, err)
			}

			want := []float64{0.6, 0.8}
			if err := store.Set(ctx, "k", want); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, ok, err := store.Get(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Get(k) = ok %v err %v", ok, err)
			}
			if !slices.Equal(got, want) {
				t.Errorf("Get(k) = %v, want %v", got, want)
			}

			// Mutating the returned slice must not affect the store.
			got[0] = 42
			again, _, _ := store.Get(ctx, "k")
			if again[0] != 0.6 {
				t.Errorf("store value mutated through returned slice: %v", again)
			}
		})
	}
}

func TestNewVectorStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewVectorStore(ctx, StoreOptions{Backend: "none"})
	if err != nil || store != nil {
		t.Errorf("none backend = (%v, %v), want (nil, nil)", store, err)
	}

	store, err = NewVectorStore(ctx, StoreOptions{Backend: "memory", MaxEntries: 4})
	if err != nil {
		t.Fatalf("memory backend error = %v", err)
	}
	if _, ok := store.(*MemoryVectorStore); !ok {
		t.Errorf("memory backend type = %T", store)
	}

	if _, err := NewVectorStore(ctx, StoreOptions{Backend: "etcd"}); err == nil {
		t.Error("unknown backend should fail")
	}
}
