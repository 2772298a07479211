// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
)

// ErrCorruptVector is returned when a stored value cannot be decoded.
var ErrCorruptVector = errors.New("cache: corrupt vector value")

// VectorStore caches embedding vectors by key.
type VectorStore interface {
	// Get returns the vector for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vec []float64) error
	Close() error
}

// VectorKey derives a stable cache key from its parts. Parts are separated
// by a NUL byte so ("ab","c") and ("a","bc") differ.
func VectorKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeVector packs v as little-endian float64 values.
func EncodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptVector, len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

// MemoryVectorStore keeps vectors in a bounded in-process LRU.
type MemoryVectorStore struct {
	lru *LRU[[]float64]
}

var _ VectorStore = (*MemoryVectorStore)(nil)

// NewMemoryVectorStore creates an LRU-backed store.
func NewMemoryVectorStore(maxEntries int, ttl time.Duration) *MemoryVectorStore {
	return &MemoryVectorStore{lru: NewLRU[[]float64](maxEntries, ttl)}
}

func (s *MemoryVectorStore) Get(_ context.Context, key string) ([]float64, bool, error) {
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), v...), true, nil
}

func (s *MemoryVectorStore) Set(_ context.Context, key string, vec []float64) error {
	s.lru.Add(key, append([]float64(nil), vec...))
	return nil
}

func (s *MemoryVectorStore) Close() error { return nil }

const badgerKeyPrefix = "emb:"

// BadgerVectorStore persists vectors in an embedded Badger database so the
// cache survives restarts.
type BadgerVectorStore struct {
	db  *badger.DB
	ttl time.Duration
}

var _ VectorStore = (*BadgerVectorStore)(nil)

// OpenBadgerVectorStore opens (or creates) a Badger database at dir.
// An empty dir opens an in-memory database.
func OpenBadgerVectorStore(dir string, ttl time.Duration) (*BadgerVectorStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &BadgerVectorStore{db: db, ttl: ttl}, nil
}

func (s *BadgerVectorStore) Get(_ context.Context, key string) ([]float64, bool, error) {
	var vec []float64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			vec, decodeErr = DecodeVector(val)
			return decodeErr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return vec, true, nil
}

func (s *BadgerVectorStore) Set(_ context.Context, key string, vec []float64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(badgerKeyPrefix+key), EncodeVector(vec))
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("badger set: %w", err)
		}
		return nil
	})
}

func (s *BadgerVectorStore) Close() error {
	return s.db.Close()
}

// RedisVectorStore shares cached vectors between replicas through Redis.
type RedisVectorStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ VectorStore = (*RedisVectorStore)(nil)

// NewRedisVectorStore wraps an existing client. Keys are written as
// prefix+key with the given TTL (0 = no expiry).
func NewRedisVectorStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisVectorStore {
	return &RedisVectorStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisVectorStore) Get(ctx context.Context, key string) ([]float64, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	vec, err := DecodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *RedisVectorStore) Set(ctx context.Context, key string, vec []float64) error {
	if err := s.client.Set(ctx, s.prefix+key, EncodeVector(vec), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisVectorStore) Close() error {
	return s.client.Close()
}

// StoreOptions selects a VectorStore backend.
type StoreOptions struct {
	Backend       string // none, memory, badger or redis
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	MaxEntries    int
}

// NewVectorStore builds the configured backend. It returns (nil, nil) for
// the "none" backend.
func NewVectorStore(ctx context.Context, opts StoreOptions) (VectorStore, error) {
	switch opts.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryVectorStore(opts.MaxEntries, opts.TTL), nil
	case "badger":
		store, err := OpenBadgerVectorStore(opts.Dir, opts.TTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
		}
		return NewRedisVectorStore(client, "recserve:emb:", opts.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
