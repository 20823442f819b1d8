package voice

import (
	"fmt"
	"testing"
	"time"
)

func cacheClip(t *testing.T, identity string, samples int) *Clip {
	t.Helper()
	buf := NewSampleBuffer(BufferConfig{
		Channels:   1,
		SampleRate: 16000,
		Capacity:   samples,
	}, NewDispatcher(8))
	buf.AddSamples(make([]float32, samples))
	return &Clip{Identity: identity, Buffer: buf, CreatedAt: time.Now()}
}

func TestLRUCacheEvictsOldestPastCountLimit(t *testing.T) {
	c := NewLRUClipCache(3, 0)

	var evicted []string
	c.OnEvicted = func(clip *Clip) { evicted = append(evicted, clip.Identity) }

	for i := 0; i < 4; i++ {
		c.AddClip(cacheClip(t, fmt.Sprintf("clip-%d", i), 100))
	}

	if got := c.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	if len(evicted) != 1 || evicted[0] != "clip-0" {
		t.Fatalf("evicted %v, want [clip-0]", evicted)
	}
	if _, ok := c.GetClip("clip-0"); ok {
		t.Error("evicted clip still retrievable")
	}
}

func TestLRUCacheGetRefreshesRecency(t *testing.T) {
	c := NewLRUClipCache(3, 0)
	for i := 0; i < 3; i++ {
		c.AddClip(cacheClip(t, fmt.Sprintf("clip-%d", i), 100))
	}

	// Touch the oldest so the next insertion evicts clip-1 instead.
	if _, ok := c.GetClip("clip-0"); !ok {
		t.Fatal("clip-0 missing")
	}
	c.AddClip(cacheClip(t, "clip-3", 100))

	if _, ok := c.GetClip("clip-0"); !ok {
		t.Error("recently used clip was evicted")
	}
	if _, ok := c.GetClip("clip-1"); ok {
		t.Error("least recently used clip survived")
	}
}

func TestLRUCacheEvictsBySize(t *testing.T) {
	// Each clip is 16000 mono samples = 31.25 KB estimated; cap at 70 KB so
	// a third clip pushes the first out.
	c := NewLRUClipCache(0, 70)
	for i := 0; i < 3; i++ {
		c.AddClip(cacheClip(t, fmt.Sprintf("clip-%d", i), 16000))
	}

	if got := c.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2 after size eviction", got)
	}
	if _, ok := c.GetClip("clip-0"); ok {
		t.Error("oldest clip survived size eviction")
	}
}

func TestLRUCacheSameIdentityReplaces(t *testing.T) {
	c := NewLRUClipCache(4, 0)
	first := cacheClip(t, "clip-x", 100)
	c.AddClip(first)

	replacement := cacheClip(t, "clip-x", 200)
	c.AddClip(replacement)

	if got := c.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1 after replacement", got)
	}
	got, _ := c.GetClip("clip-x")
	if got != replacement {
		t.Error("GetClip returned the replaced instance")
	}

	// Re-adding the identical instance is a no-op.
	if !c.AddClip(replacement) {
		t.Error("re-adding the same instance reported failure")
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len = %d after re-add, want 1", got)
	}
}

func TestLRUCacheRemoveUnloadsBuffer(t *testing.T) {
	c := NewLRUClipCache(4, 0)
	clip := cacheClip(t, "clip-r", 100)
	c.AddClip(clip)
	c.RemoveClip("clip-r")

	if _, ok := c.GetClip("clip-r"); ok {
		t.Fatal("removed clip still retrievable")
	}
	clip.Buffer.AddSamples(make([]float32, 10))
	if got := clip.Buffer.AddedSamples(); got != 0 {
		t.Error("removed clip's buffer still accepts samples")
	}
}

func TestRefCountedCachePinsUntilPlaybackDone(t *testing.T) {
	c := NewRefCountedClipCache()
	clip := cacheClip(t, "clip-p", 100)
	c.AddClip(clip)

	c.PlaybackQueued("clip-p")
	c.PlaybackQueued("clip-p")
	c.PlaybackComplete("clip-p")

	// One playback still outstanding keeps the clip alive.
	if _, ok := c.GetClip("clip-p"); !ok {
		t.Fatal("clip evicted while playback outstanding")
	}

	c.PlaybackComplete("clip-p")
	if _, ok := c.GetClip("clip-p"); ok {
		t.Error("clip survived after its last playback completed")
	}
}

func TestRefCountedCacheKeepsNeverPlayedClips(t *testing.T) {
	c := NewRefCountedClipCache()
	c.AddClip(cacheClip(t, "clip-n", 100))

	// A completion signal with no prior queue (e.g. a player torn down
	// before this clip was scheduled) must not evict it.
	c.PlaybackComplete("clip-n")
	if _, ok := c.GetClip("clip-n"); !ok {
		t.Error("never-played clip was evicted")
	}
}

func TestRefCountedCacheRemoveIsImmediate(t *testing.T) {
	c := NewRefCountedClipCache()
	c.AddClip(cacheClip(t, "clip-d", 100))
	c.PlaybackQueued("clip-d")

	c.RemoveClip("clip-d")
	if _, ok := c.GetClip("clip-d"); ok {
		t.Error("explicitly removed clip still present")
	}
}
