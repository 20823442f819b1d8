package voice

import (
	"container/list"

	"github.com/dustin/go-humanize"
)

// LRUClipCache keeps clips in access order and evicts from the
// least-recently-used end whenever the clip count or the estimated sample
// memory exceeds its limits. Both AddClip and GetClip count as access.
type LRUClipCache struct {
	maxClips int
	maxKB    int64

	items map[string]*list.Element
	order *list.List // front = most recently used

	// OnEvicted, when set, observes evictions after the buffer is unloaded.
	OnEvicted func(*Clip)
}

type lruEntry struct {
	clip *Clip
}

// NewLRUClipCache creates an LRU cache. maxClips 0 disables the count limit;
// maxKB 0 disables the size limit.
func NewLRUClipCache(maxClips int, maxKB int64) *LRUClipCache {
	return &LRUClipCache{
		maxClips: maxClips,
		maxKB:    maxKB,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// AddClip stores a clip at the most-recently-used position and then evicts
// until both limits hold again.
func (c *LRUClipCache) AddClip(clip *Clip) bool {
	if clip == nil || clip.Identity == "" {
		return false
	}
	if elem, ok := c.items[clip.Identity]; ok {
		entry := elem.Value.(*lruEntry)
		c.order.MoveToFront(elem)
		if entry.clip == clip {
			return true
		}
		// Same identity, different record: the old buffer is replaced.
		old := entry.clip
		entry.clip = clip
		c.unloadAndNotify(old)
		c.evictOverLimit()
		return true
	}

	elem := c.order.PushFront(&lruEntry{clip: clip})
	c.items[clip.Identity] = elem
	c.evictOverLimit()
	return true
}

// GetClip returns the clip for an identity, moving it to the
// most-recently-used position.
func (c *LRUClipCache) GetClip(identity string) (*Clip, bool) {
	elem, ok := c.items[identity]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).clip, true
}

// RemoveClip evicts a clip and unloads its buffer.
func (c *LRUClipCache) RemoveClip(identity string) {
	elem, ok := c.items[identity]
	if !ok {
		return
	}
	c.removeElement(elem)
}

// Clips returns all cached clips, most recently used first.
func (c *LRUClipCache) Clips() []*Clip {
	clips := make([]*Clip, 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		clips = append(clips, elem.Value.(*lruEntry).clip)
	}
	return clips
}

// Len returns the number of cached clips.
func (c *LRUClipCache) Len() int {
	return len(c.items)
}

// EstimatedKB sums the estimated sample memory of all cached clips.
func (c *LRUClipCache) EstimatedKB() int64 {
	var total int64
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		total += elem.Value.(*lruEntry).clip.EstimatedKB()
	}
	return total
}

// evictOverLimit drops least-recently-used clips until both the count and
// the size limit are satisfied, or the cache is empty.
func (c *LRUClipCache) evictOverLimit() {
	for c.order.Len() > 0 {
		overCount := c.maxClips > 0 && c.order.Len() > c.maxClips
		overSize := c.maxKB > 0 && c.EstimatedKB() > c.maxKB
		if !overCount && !overSize {
			return
		}
		back := c.order.Back()
		clip := back.Value.(*lruEntry).clip
		logger.Debug("evicting clip",
			"identity", clip.Identity,
			"size", humanize.Bytes(uint64(clip.EstimatedKB()*1024)))
		c.removeElement(back)
	}
}

func (c *LRUClipCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.clip.Identity)
	c.order.Remove(elem)
	c.unloadAndNotify(entry.clip)
}

func (c *LRUClipCache) unloadAndNotify(clip *Clip) {
	if clip.Buffer != nil {
		clip.Buffer.Unload()
	}
	if c.OnEvicted != nil {
		c.OnEvicted(clip)
	}
}
