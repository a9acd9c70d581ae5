package trigger

import (
	"context"
	"sync"
	"time"

	"CronCat-Agent/internal/ledger"
)

// 默认缓存窗口与分页大小。
const (
	DefaultCacheTTL = 60 * time.Second
	DefaultPageSize = 100
)

// PageSource 按偏移量分页读取 trigger 列表。
type PageSource interface {
	GetTriggerPage(ctx context.Context, offset, limit uint64) ([]ledger.TriggerRecord, error)
}

// Cache 是 trigger 列表的软 TTL 缓存：窗口内不会发起远程调用，
// 过期后整体替换，不做增量失效。
type Cache struct {
	source   PageSource
	ttl      time.Duration
	pageSize uint64
	now      func() time.Time

	mu          sync.RWMutex
	triggers    []ledger.TriggerRecord
	refreshedAt time.Time
}

// NewCache 创建缓存。ttl 或 pageSize 为 0 时使用默认值，now 为 nil 时使用 time.Now。
func NewCache(source PageSource, ttl time.Duration, pageSize uint64, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{source: source, ttl: ttl, pageSize: pageSize, now: now}
}

// TTL 返回缓存窗口。
func (c *Cache) TTL() time.Duration { return c.ttl }

// Refresh 返回缓存的 trigger 列表，过期时从偏移 0 开始分页重新拉取，
// 直到遇到第一页空结果。任意一页失败时返回错误，缓存与时间戳保持不变。
func (c *Cache) Refresh(ctx context.Context) ([]ledger.TriggerRecord, error) {
	c.mu.RLock()
	if !c.refreshedAt.IsZero() && c.now().Sub(c.refreshedAt) < c.ttl {
		triggers := c.triggers
		c.mu.RUnlock()
		return triggers, nil
	}
	c.mu.RUnlock()

	var fresh []ledger.TriggerRecord
	for offset := uint64(0); ; offset += c.pageSize {
		page, err := c.source.GetTriggerPage(ctx, offset, c.pageSize)
		if err != nil {
			return nil, ledger.Classify(err, "读取 trigger 列表失败")
		}
		if len(page) == 0 {
			break
		}
		fresh = append(fresh, page...)
	}

	c.mu.Lock()
	c.triggers = fresh
	c.refreshedAt = c.now()
	c.mu.Unlock()
	return fresh, nil
}

// Triggers 返回当前缓存内容，不触发刷新。
func (c *Cache) Triggers() []ledger.TriggerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.triggers
}

// Len 返回缓存中的 trigger 数量。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.triggers)
}

// RefreshedAt 返回最近一次成功刷新的时间，从未刷新时为零值。
func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}
