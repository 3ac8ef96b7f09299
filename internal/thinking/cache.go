// Package thinking caches cryptographically signed thinking blocks keyed by
// the assistant message content they accompany. The upstream requires every
// prior assistant turn to carry its original signed thinking block verbatim
// whenever extended thinking is enabled; clients routinely strip those blocks
// from history, so the proxy re-attaches them from this cache.
package thinking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"claudebridge/internal/kv"
	"claudebridge/internal/wire"
)

const (
	defaultLocalCap = 100
	kvPrefix        = "thinking:"
	writeTimeout    = 10 * time.Second
)

// Entry is a cached thinking block plus its write timestamp.
type Entry struct {
	Block     wire.ContentBlock `json:"thinking_block"`
	Timestamp int64             `json:"timestamp"`
}

// Cache is the two-tier thinking-block cache: a bounded in-process map in
// front of an optional remote key-value tier with per-entry TTL.
type Cache struct {
	mu       sync.Mutex
	local    map[string]Entry
	localCap int

	persistent kv.Store // nil means memory-only
	ttl        time.Duration
	now        func() time.Time
}

// NewCache creates a cache. persistent may be nil, which degrades to the
// local tier only.
func NewCache(persistent kv.Store, ttl time.Duration) *Cache {
	return &Cache{
		local:      make(map[string]Entry),
		localCap:   defaultLocalCap,
		persistent: persistent,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Persistent reports whether the remote tier is configured.
func (c *Cache) Persistent() bool {
	return c.persistent != nil
}

// Len returns the local tier's entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

// Get looks up a thinking block by key. A remote hit back-fills the local
// tier; remote failures degrade to a miss.
func (c *Cache) Get(ctx context.Context, key string) (wire.ContentBlock, bool) {
	c.mu.Lock()
	if entry, ok := c.local[key]; ok {
		c.mu.Unlock()
		return entry.Block, true
	}
	c.mu.Unlock()

	if c.persistent == nil {
		return wire.ContentBlock{}, false
	}

	val, ok, err := c.persistent.Get(ctx, kvPrefix+key)
	if err != nil {
		slog.Warn("thinking cache read failed", "key", key, "error", err)
		return wire.ContentBlock{}, false
	}
	if !ok {
		return wire.ContentBlock{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		slog.Warn("thinking cache entry corrupt", "key", key, "error", err)
		return wire.ContentBlock{}, false
	}

	c.putLocal(key, entry)
	return entry.Block, true
}

// Put stores a thinking block under key in both tiers. The persistent write
// is fire-and-forget: it runs on its own detached context so it neither
// delays nor fails the response that produced the block.
func (c *Cache) Put(key string, block wire.ContentBlock) {
	entry := Entry{Block: block, Timestamp: c.now().UnixMilli()}
	c.putLocal(key, entry)

	if c.persistent == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("thinking cache marshal failed", "key", key, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.persistent.SetEx(ctx, kvPrefix+key, string(data), c.ttl); err != nil {
			slog.Warn("thinking cache persistent write failed", "key", key, "error", err)
		}
	}()
}

func (c *Cache) putLocal(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = entry
	for len(c.local) > c.localCap {
		c.evictOldestLocked()
	}
}

func (c *Cache) evictOldestLocked() {
	oldestKey := ""
	oldestTS := int64(0)
	for k, e := range c.local {
		if oldestKey == "" || e.Timestamp < oldestTS {
			oldestKey = k
			oldestTS = e.Timestamp
		}
	}
	if oldestKey != "" {
		delete(c.local, oldestKey)
	}
}

// InjectResult reports what Inject did to a message history.
type InjectResult struct {
	Injected       int
	Missing        int
	CanUseThinking bool
}

// Inject walks the history and prepends the cached thinking block to every
// assistant message that lacks one. CanUseThinking is true iff no assistant
// message remains without a thinking block; the pipeline downgrades the
// request otherwise. This is the only path that adds thinking blocks to
// historical messages.
func (c *Cache) Inject(ctx context.Context, messages []wire.AnthropicMsg) InjectResult {
	res := InjectResult{CanUseThinking: true}

	for i := range messages {
		if messages[i].Role != "assistant" {
			continue
		}
		blocks := wire.ParseMessageContent(messages[i].Content)
		if hasThinking(blocks) {
			continue
		}

		key, ok := ContentKey(blocks)
		if !ok {
			continue
		}

		block, hit := c.Get(ctx, key)
		if !hit {
			res.Missing++
			res.CanUseThinking = false
			continue
		}

		blocks = append([]wire.ContentBlock{block}, blocks...)
		messages[i].Content = wire.MarshalContent(blocks)
		res.Injected++
	}

	return res
}

// CanonicalContent builds the non-thinking content blocks a finished
// response is keyed under: the accumulated text plus any tool_use blocks.
func CanonicalContent(text string, toolUses []wire.ContentBlock) []wire.ContentBlock {
	var blocks []wire.ContentBlock
	if text != "" {
		blocks = append(blocks, wire.ContentBlock{Type: "text", Text: text})
	}
	blocks = append(blocks, toolUses...)
	return blocks
}

func hasThinking(blocks []wire.ContentBlock) bool {
	for _, b := range blocks {
		if b.IsThinking() {
			return true
		}
	}
	return false
}
