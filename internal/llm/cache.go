package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/agenthands/wikigraph/internal/config"
	"github.com/agenthands/wikigraph/internal/logger"
)

// KV is the byte store behind CachedEmbedder. A miss is (nil, false, nil).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(ctx context.Context, cfg config.RedisConfig) (*RedisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKV{rdb: rdb}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

func (r *RedisKV) Close() error { return r.rdb.Close() }

// CachedEmbedder memoizes per-text embeddings in a KV store. Concurrent
// misses for the same text share one upstream call. Cache failures are
// logged and bypassed.
type CachedEmbedder struct {
	next   Embedder
	kv     KV
	ttl    time.Duration
	prefix string
	log    *logger.Logger
	group  singleflight.Group
}

func NewCachedEmbedder(next Embedder, kv KV, model string, ttl time.Duration, log *logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		next:   next,
		kv:     kv,
		ttl:    ttl,
		prefix: "emb:" + model + ":",
		log:    log.With("component", "embedding_cache"),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		key := c.key(text)
		if raw, ok, err := c.kv.Get(ctx, key); err != nil {
			c.log.Warn("embedding cache read failed", "error", err)
		} else if ok {
			if vec, err := decodeFloats(raw); err == nil {
				out[i] = vec
				continue
			}
		}

		g.Go(func() error {
			// The shared call outlives any single waiter's cancellation.
			ch := c.group.DoChan(key, func() (any, error) {
				shared := context.WithoutCancel(gctx)
				vecs, err := c.next.Embed(shared, []string{text})
				if err != nil {
					return nil, err
				}
				if len(vecs) != 1 {
					return nil, fmt.Errorf("embedder returned %d vectors for one input", len(vecs))
				}
				if err := c.kv.Set(shared, key, encodeFloats(vecs[0]), c.ttl); err != nil {
					c.log.Warn("embedding cache write failed", "error", err)
				}
				return vecs[0], nil
			})
			select {
			case <-gctx.Done():
				return gctx.Err()
			case res := <-ch:
				if res.Err != nil {
					return res.Err
				}
				out[i] = append([]float32(nil), res.Val.([]float32)...)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func encodeFloats(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeFloats(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
