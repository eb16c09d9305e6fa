package hittest

import (
	"image"
	"io"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/getcharzp/go-pointseg/mask"
)

// Cache 并发安全的 Mask 栅格缓存
type Cache struct {
	mu      sync.RWMutex
	rasters map[string]*image.Alpha

	debounced func(f func())
	onReady   func()
}

// NewCache 创建栅格缓存
//
// # Params:
//
//	delay: 就绪通知的合并间隔
//	onReady: 栅格写入后的通知，delay 内的多次写入只通知一次，可为 nil
func NewCache(delay time.Duration, onReady func()) *Cache {
	return &Cache{
		rasters:   make(map[string]*image.Alpha),
		debounced: debounce.New(delay),
		onReady:   onReady,
	}
}

// Put 写入栅格
func (c *Cache) Put(id string, raster *image.Alpha) {
	c.mu.Lock()
	c.rasters[id] = raster
	c.mu.Unlock()

	if c.onReady != nil {
		c.debounced(c.onReady)
	}
}

// PutMask 写入二值 Mask
func (c *Cache) PutMask(id string, m *mask.Mask) {
	c.Put(id, m.Alpha())
}

// LoadPNG 从传输格式的 PNG 读取栅格
func (c *Cache) LoadPNG(id string, r io.Reader) error {
	m, err := mask.DecodePNG(r)
	if err != nil {
		return err
	}
	c.PutMask(id, m)
	return nil
}

// Get 读取栅格
func (c *Cache) Get(id string) (*image.Alpha, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.rasters[id]
	return a, ok
}

// Delete 删除栅格
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rasters, id)
}

// Len 缓存数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rasters)
}
