// Package l2 implements the distributed cache tier backed by
// github.com/redis/go-redis/v9: TTL-aware get/set, atomic locks, tag-set
// membership and cursor-based tag invalidation, with optional
// github.com/klauspost/compress/zstd payload compression.
package l2

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	svcerrors "github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

// Flow TTL defaults, applied when a caller does not supply an explicit TTL.
var FlowTTLDefaults = map[string]time.Duration{
	"geometry": 24 * time.Hour,
	"mesh":     7 * 24 * time.Hour,
	"export":   7 * 24 * time.Hour,
	"ai":       6 * time.Hour,
	"metrics":  30 * 24 * time.Hour,
	"doc":      7 * 24 * time.Hour,
}

const defaultTTL = 1 * time.Hour

// TTLForFlow returns the configured default TTL for a flow, falling back to
// defaultTTL when the flow is unrecognized.
func TTLForFlow(flow string) time.Duration {
	if ttl, ok := FlowTTLDefaults[flow]; ok {
		return ttl
	}
	return defaultTTL
}

// ContentType classifies the stored payload shape.
type ContentType string

const (
	ContentJSON  ContentType = "json"
	ContentBytes ContentType = "bytes"
	ContentText  ContentType = "text"
)

// Metadata describes an entry. Only Compressed and ContentType are stored,
// as a two-byte header in front of the payload under the entry's own key;
// OriginalSize, CompressedSize and Timestamp are not stored, and no separate
// metadata key is written.
type Metadata struct {
	Compressed     bool        `json:"compressed"`
	ContentType    ContentType `json:"content_type"`
	OriginalSize   int         `json:"original_size"`
	CompressedSize int         `json:"compressed_size"`
	Timestamp      int64       `json:"timestamp"`
}

// Config tunes compression behavior.
type Config struct {
	CompressionEnabled   bool
	CompressionThreshold int // bytes; below this, payloads are stored raw
	TagScanBatchSize     int64
}

// DefaultConfig returns sensible defaults: compression on above 1KiB,
// tag-set scan cursor batches of 200.
func DefaultConfig() Config {
	return Config{
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
		TagScanBatchSize:     200,
	}
}

// Cache is the distributed (L2) cache tier.
type Cache struct {
	client  *redis.Client
	cfg     Config
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New wraps an existing redis client.
func New(client *redis.Client, cfg Config) (*Cache, error) {
	if cfg.TagScanBatchSize <= 0 {
		cfg.TagScanBatchSize = 200
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, svcerrors.Internal("failed to initialize compressor", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, svcerrors.Internal("failed to initialize decompressor", err)
	}

	return &Cache{client: client, cfg: cfg, encoder: enc, decoder: dec}, nil
}

// NewFromURL parses a redis:// URL and connects, pinging to fail fast.
func NewFromURL(ctx context.Context, url string, cfg Config) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, svcerrors.RedisConnectionError(err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, svcerrors.RedisConnectionError(err)
	}

	return New(client, cfg)
}

// entry is the wire encoding: one byte for compressed flag, one byte for
// content type tag, then payload.
type entry struct {
	meta    Metadata
	payload []byte
}

// Get retrieves and decompresses (if applicable) the value for key.
// Returns (nil, false, nil) on a clean miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, svcerrors.RedisConnectionError(err)
	}

	e, err := decodeEntry(raw)
	if err != nil {
		return nil, false, err
	}

	if !e.meta.Compressed {
		return e.payload, true, nil
	}

	decoded, err := c.decoder.DecodeAll(e.payload, nil)
	if err != nil {
		return nil, false, svcerrors.CompressionError(err)
	}
	return decoded, true, nil
}

// Set stores value under key with the given TTL, compressing the payload
// when compression is enabled, above threshold, and strictly smaller than
// the original.
func (c *Cache) Set(ctx context.Context, key string, value []byte, contentType ContentType, ttl time.Duration) error {
	meta := Metadata{
		ContentType:  contentType,
		OriginalSize: len(value),
		Timestamp:    nowUnix(),
	}

	payload := value
	if c.cfg.CompressionEnabled && len(value) >= c.cfg.CompressionThreshold {
		compressed := c.encoder.EncodeAll(value, nil)
		if len(compressed) < len(value) {
			meta.Compressed = true
			meta.CompressedSize = len(compressed)
			payload = compressed
		}
	}

	encoded := encodeEntry(meta, payload)
	if err := c.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return svcerrors.RedisConnectionError(err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return svcerrors.RedisConnectionError(err)
	}
	return nil
}

// AcquireLock performs a single atomic SET key "1" NX PX timeout, returning
// true iff the lock was acquired. Best-effort: correctness relies on TTL
// fencing, not exclusivity across failures.
func (c *Cache) AcquireLock(ctx context.Context, lockKey string, timeout time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockKey, "1", timeout).Result()
	if err != nil {
		return false, svcerrors.RedisConnectionError(err)
	}
	return ok, nil
}

// ReleaseLock unconditionally deletes lockKey.
func (c *Cache) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.Delete(ctx, lockKey)
}

// AddToTag adds cacheKey to the engine tag set tagKey.
func (c *Cache) AddToTag(ctx context.Context, tagKey, cacheKey string) error {
	if err := c.client.SAdd(ctx, tagKey, cacheKey).Err(); err != nil {
		return svcerrors.RedisConnectionError(err)
	}
	return nil
}

// InvalidateTag scans tagKey via SSCAN in bounded batches, deletes each
// listed key via a pipeline (an entry's metadata is its value header, so
// there is no separate metadata key), then deletes the tag set itself.
// Returns the count of keys deleted.
func (c *Cache) InvalidateTag(ctx context.Context, tagKey string) (int, error) {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := c.client.SScan(ctx, tagKey, cursor, "", c.cfg.TagScanBatchSize).Result()
		if err != nil {
			return deleted, svcerrors.RedisConnectionError(err)
		}

		if len(keys) > 0 {
			pipe := c.client.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return deleted, svcerrors.RedisConnectionError(err)
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := c.client.Del(ctx, tagKey).Err(); err != nil {
		return deleted, svcerrors.RedisConnectionError(err)
	}
	return deleted, nil
}

// Close releases the underlying client and compressor resources.
func (c *Cache) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return c.client.Close()
}

func encodeEntry(meta Metadata, payload []byte) []byte {
	var buf bytes.Buffer
	if meta.Compressed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(contentTypeTag(meta.ContentType))
	buf.Write(payload)
	return buf.Bytes()
}

func decodeEntry(raw []byte) (entry, error) {
	if len(raw) < 2 {
		return entry{}, svcerrors.CompressionError(io.ErrUnexpectedEOF)
	}
	compressed := raw[0] == 1
	contentType := contentTypeFromTag(raw[1])
	return entry{
		meta:    Metadata{Compressed: compressed, ContentType: contentType},
		payload: raw[2:],
	}, nil
}

func contentTypeTag(ct ContentType) byte {
	switch ct {
	case ContentJSON:
		return 0
	case ContentText:
		return 1
	default:
		return 2
	}
}

func contentTypeFromTag(b byte) ContentType {
	switch b {
	case 0:
		return ContentJSON
	case 1:
		return ContentText
	default:
		return ContentBytes
	}
}

func nowUnix() int64 {
	return timeNow().Unix()
}

// timeNow is indirected so tests can stub wall-clock-dependent behavior if needed.
var timeNow = time.Now
