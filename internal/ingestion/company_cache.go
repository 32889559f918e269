package ingestion

import (
	"strings"
	"sync"
)

// CompanyCache 公司名到公司ID的进程内缓存。
// 批量入库时多个goroutine可能同时解析同一家公司，这里用互斥锁保证
// 读写安全；真正的唯一性由数据库 name_normalized 唯一索引兜底。
type CompanyCache struct {
	mu    sync.Mutex
	cache map[string]uint64
}

func NewCompanyCache() *CompanyCache {
	return &CompanyCache{cache: make(map[string]uint64)}
}

// NormalizeCompanyName 公司名规范化：小写、去首尾空格、压缩内部连续空白
func NormalizeCompanyName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Get 按规范化名称查缓存
func (c *CompanyCache) Get(normalized string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.cache[normalized]
	return id, ok
}

// Put 写入缓存
func (c *CompanyCache) Put(normalized string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[normalized] = id
}
