package voice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ClipIdentityVersion prefixes every clip identity so on-disk clips survive
// key-scheme migrations.
const ClipIdentityVersion = "v1"

// VoiceSettings are the key/value parameters embedded in a synthesis request.
// They take part in the clip identity, so two requests with different
// settings never collide in a cache.
type VoiceSettings struct {
	// Voice is the server-side voice name
	Voice string

	// Speed is the playback speed multiplier; 0 means server default
	Speed float64

	// Pitch is the pitch multiplier; 0 means server default
	Pitch float64

	// Extra carries provider-specific parameters verbatim
	Extra map[string]string
}

// Encode flattens the settings to the wire key/value form.
func (s VoiceSettings) Encode() map[string]string {
	params := make(map[string]string, len(s.Extra)+3)
	for k, v := range s.Extra {
		params[k] = v
	}
	if s.Voice != "" {
		params["voice"] = s.Voice
	}
	if s.Speed > 0 {
		params["speed"] = fmt.Sprintf("%.2f", s.Speed)
	}
	if s.Pitch > 0 {
		params["pitch"] = fmt.Sprintf("%.2f", s.Pitch)
	}
	return params
}

// canonical returns a deterministic string form for identity hashing.
func (s VoiceSettings) canonical() string {
	params := s.Encode()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('|')
	}
	return sb.String()
}

// ClipIdentityFor derives the opaque cache key for a text/settings pair. The
// same inputs always produce the same identity.
func ClipIdentityFor(text string, settings VoiceSettings) string {
	input := fmt.Sprintf("%s|%s", text, settings.canonical())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%s_%s", ClipIdentityVersion, hex.EncodeToString(sum[:]))
}
