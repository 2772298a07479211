// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package cache provides the bounded in-memory structures used by the serving
// path (FIFO rings for metric windows, an LRU with TTL) and the VectorStore
// backends that cache text embeddings in memory, Badger or Redis.
package cache

import "sync"

// Ring is a fixed-capacity FIFO window. Pushing onto a full ring discards
// the oldest element.
//
// Complexity:
//   - Push: O(1)
//   - Snapshot: O(n)
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	start int // index of the oldest element
	size  int
}

// NewRing creates a ring holding at most capacity elements.
// A capacity below 1 is raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.push(v)
}

func (r *Ring[T]) push(v T) {
	capacity := len(r.buf)
	if r.size < capacity {
		r.buf[(r.start+r.size)%capacity] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % capacity
}

// PushAndSnapshot appends v and returns the window contents under a single
// lock acquisition, oldest first.
func (r *Ring[T]) PushAndSnapshot(v T) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.push(v)
	return r.snapshot()
}

// Snapshot returns a copy of the contents, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot()
}

func (r *Ring[T]) snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Fold applies fn to every element, oldest first, while holding the lock.
// fn must not call back into the ring.
func (r *Ring[T]) Fold(fn func(T)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}
