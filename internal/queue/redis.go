// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisLister abstracts the minimal list surface a RedisBackend needs.
// Implementations may wrap github.com/redis/go-redis/v9 or any
// equivalent client — mirroring the teacher's RedisEvaler seam.
type RedisLister interface {
	RPush(ctx context.Context, key string, values ...interface{}) error
	LPop(ctx context.Context, key string) (string, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// GoRedisLister is a production RedisLister backed by
// github.com/redis/go-redis/v9.
type GoRedisLister struct{ c *redis.Client }

// NewGoRedisLister dials addr and returns a ready RedisLister.
func NewGoRedisLister(addr string) *GoRedisLister {
	return &GoRedisLister{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisLister) RPush(ctx context.Context, key string, values ...interface{}) error {
	return g.c.RPush(ctx, key, values...).Err()
}

func (g *GoRedisLister) LPop(ctx context.Context, key string) (string, error) {
	return g.c.LPop(ctx, key).Result()
}

func (g *GoRedisLister) LLen(ctx context.Context, key string) (int64, error) {
	return g.c.LLen(ctx, key).Result()
}

// RedisBackend implements Backend as a Redis list, for deployments that
// want the overflow tier shared across multiple agent instances rather
// than pinned to one host's disk. It trades the file backend's crash
// atomicity guarantees for horizontal durability: Redis's own
// persistence (AOF/RDB) governs crash behavior here, not this package.
type RedisBackend struct {
	client   RedisLister
	key      string
	maxItems int
	ctx      context.Context
}

// NewRedisBackend wraps an existing RedisLister. ctx bounds every call
// made by the backend (callers typically pass context.Background()).
func NewRedisBackend(ctx context.Context, client RedisLister, key string, maxItems int) *RedisBackend {
	return &RedisBackend{client: client, key: key, maxItems: maxItems, ctx: ctx}
}

func (r *RedisBackend) Enqueue(item []byte) error {
	ok, err := r.TryEnqueue(item)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFull
	}
	return nil
}

func (r *RedisBackend) TryEnqueue(item []byte) (bool, error) {
	if r.maxItems > 0 {
		n, err := r.client.LLen(r.ctx, r.key)
		if err != nil {
			return false, fmt.Errorf("queue(redis): llen: %w", err)
		}
		if int(n) >= r.maxItems {
			return false, nil
		}
	}
	payload := append([]byte{formatTag}, item...)
	if err := r.client.RPush(r.ctx, r.key, payload); err != nil {
		return false, fmt.Errorf("queue(redis): rpush: %w", err)
	}
	return true, nil
}

func (r *RedisBackend) Dequeue() ([]byte, bool, error) {
	s, err := r.client.LPop(r.ctx, r.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("queue(redis): lpop: %w", err)
	}
	raw := []byte(s)
	if len(raw) < 1 {
		return nil, false, fmt.Errorf("queue(redis): empty payload")
	}
	return raw[1:], true, nil
}

func (r *RedisBackend) Len() int {
	n, err := r.client.LLen(r.ctx, r.key)
	if err != nil {
		return 0
	}
	return int(n)
}

func (r *RedisBackend) Close() error { return nil }
