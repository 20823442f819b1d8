package voice

import "time"

// Clip is one synthesized-speech result: an identity plus the sample buffer
// holding (or receiving) its audio.
type Clip struct {
	// Identity is the opaque cache key derived from text and voice settings
	Identity string

	// Buffer holds the clip's samples; owned exclusively by this record
	Buffer *SampleBuffer

	// CreatedAt is when the cache record was created
	CreatedAt time.Time

	// Text is the source text, kept for diagnostics
	Text string
}

// EstimatedKB returns the clip's estimated memory footprint in KB, assuming
// two bytes per stored sample across all channels.
func (c *Clip) EstimatedKB() int64 {
	if c.Buffer == nil {
		return 0
	}
	return int64(c.Buffer.Channels()) * int64(c.Buffer.TotalSamples()) * 2 / 1024
}

// ClipCache is the common contract of the runtime cache policies.
// Implementations do not lock internally; the owning client serializes all
// access.
type ClipCache interface {
	// AddClip stores a clip. Nil clips and empty identities are rejected with
	// false; re-adding the identical instance is a no-op success.
	AddClip(clip *Clip) bool

	// GetClip returns the cached clip for an identity, if present.
	GetClip(identity string) (*Clip, bool)

	// RemoveClip evicts a clip and unloads its buffer.
	RemoveClip(identity string)

	// Clips returns all cached clips in unspecified order.
	Clips() []*Clip
}
