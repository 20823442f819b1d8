package voice

// RefCountedClipCache keeps clips alive while playback holds references to
// them. The audio output collaborator signals PlaybackQueued when a clip is
// scheduled and PlaybackComplete when it finishes; a clip whose count returns
// to zero after having been positive is evicted immediately.
//
// A clip that was cached but never played keeps a zero count and is never
// evicted by this policy alone: the cache intentionally holds clips until
// they have been played at least once. Hosts that prefetch clips they may
// never play should pair this cache with an explicit RemoveClip.
type RefCountedClipCache struct {
	items map[string]*refEntry

	// OnEvicted, when set, observes evictions after the buffer is unloaded.
	OnEvicted func(*Clip)
}

type refEntry struct {
	clip     *Clip
	refs     int
	everHeld bool
}

// NewRefCountedClipCache creates an empty reference-counted cache.
func NewRefCountedClipCache() *RefCountedClipCache {
	return &RefCountedClipCache{items: make(map[string]*refEntry)}
}

// AddClip stores a clip with a zero playback count.
func (c *RefCountedClipCache) AddClip(clip *Clip) bool {
	if clip == nil || clip.Identity == "" {
		return false
	}
	if entry, ok := c.items[clip.Identity]; ok {
		if entry.clip == clip {
			return true
		}
		old := entry.clip
		entry.clip = clip
		c.unloadAndNotify(old)
		return true
	}
	c.items[clip.Identity] = &refEntry{clip: clip}
	return true
}

// GetClip returns the clip for an identity, if cached.
func (c *RefCountedClipCache) GetClip(identity string) (*Clip, bool) {
	entry, ok := c.items[identity]
	if !ok {
		return nil, false
	}
	return entry.clip, true
}

// RemoveClip evicts a clip regardless of its playback count.
func (c *RefCountedClipCache) RemoveClip(identity string) {
	entry, ok := c.items[identity]
	if !ok {
		return
	}
	delete(c.items, identity)
	c.unloadAndNotify(entry.clip)
}

// Clips returns all cached clips.
func (c *RefCountedClipCache) Clips() []*Clip {
	clips := make([]*Clip, 0, len(c.items))
	for _, entry := range c.items {
		clips = append(clips, entry.clip)
	}
	return clips
}

// Len returns the number of cached clips.
func (c *RefCountedClipCache) Len() int {
	return len(c.items)
}

// PlaybackQueued increments the playback reference count for a clip.
// Unknown identities are ignored.
func (c *RefCountedClipCache) PlaybackQueued(identity string) {
	if entry, ok := c.items[identity]; ok {
		entry.refs++
		entry.everHeld = true
	}
}

// PlaybackComplete decrements the playback reference count. When the count
// returns to zero the clip is evicted.
func (c *RefCountedClipCache) PlaybackComplete(identity string) {
	entry, ok := c.items[identity]
	if !ok {
		return
	}
	if entry.refs > 0 {
		entry.refs--
	}
	if entry.refs == 0 && entry.everHeld {
		logger.Debug("evicting played-out clip", "identity", identity)
		delete(c.items, identity)
		c.unloadAndNotify(entry.clip)
	}
}

func (c *RefCountedClipCache) unloadAndNotify(clip *Clip) {
	if clip.Buffer != nil {
		clip.Buffer.Unload()
	}
	if c.OnEvicted != nil {
		c.OnEvicted(clip)
	}
}
