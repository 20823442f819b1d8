package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// AudioType is the closed set of audio encodings the library understands.
type AudioType int

const (
	// AudioTypePCM16 is 16-bit little-endian signed PCM, the streaming format.
	AudioTypePCM16 AudioType = iota

	// AudioTypeMP3 is compressed MPEG audio, used for disk and preloaded clips.
	AudioTypeMP3
)

// String returns the codec name.
func (t AudioType) String() string {
	switch t {
	case AudioTypePCM16:
		return "pcm16"
	case AudioTypeMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// Extension returns the file extension for the codec, without the dot.
func (t AudioType) Extension() string {
	switch t {
	case AudioTypePCM16:
		return "raw"
	case AudioTypeMP3:
		return "mp3"
	default:
		return "bin"
	}
}

// MIMEType returns the MIME type for the codec.
func (t AudioType) MIMEType() string {
	switch t {
	case AudioTypePCM16:
		return "audio/raw"
	case AudioTypeMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// AudioTypeForExtension maps a file extension (with or without dot) back to
// its codec. Returns false for unrecognized extensions.
func AudioTypeForExtension(ext string) (AudioType, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "raw", "pcm":
		return AudioTypePCM16, true
	case "mp3":
		return AudioTypeMP3, true
	default:
		return 0, false
	}
}

// ChunkDecoder turns arriving binary chunks into float samples. A decoder
// instance belongs to one clip; it may carry partial frame state between
// chunks. Implementations are not safe for concurrent use.
type ChunkDecoder interface {
	// Decode consumes one chunk and returns any samples that became whole.
	Decode(chunk []byte) ([]float32, error)

	// Flush returns samples buffered past the final chunk, if any.
	Flush() ([]float32, error)
}

// NewChunkDecoder creates a decoder for the given codec.
func NewChunkDecoder(t AudioType) (ChunkDecoder, error) {
	switch t {
	case AudioTypePCM16:
		return &pcm16Decoder{}, nil
	case AudioTypeMP3:
		return &mp3Decoder{}, nil
	default:
		return nil, fmt.Errorf("no decoder for audio type %s", t)
	}
}

// pcm16Decoder decodes 16-bit little-endian PCM. A trailing odd byte is
// carried over to the next chunk so sample boundaries survive arbitrary
// chunking.
type pcm16Decoder struct {
	carry []byte
}

func (d *pcm16Decoder) Decode(chunk []byte) ([]float32, error) {
	if len(d.carry) > 0 {
		chunk = append(d.carry, chunk...)
		d.carry = nil
	}
	if rem := len(chunk) % 2; rem != 0 {
		d.carry = append(d.carry, chunk[len(chunk)-rem:]...)
		chunk = chunk[:len(chunk)-rem]
	}
	return DecodePCM16(chunk), nil
}

func (d *pcm16Decoder) Flush() ([]float32, error) {
	if len(d.carry) > 0 {
		// A dangling byte means the stream was cut mid-sample.
		d.carry = nil
		return nil, NewVoiceError(ErrorCodeDecode, "stream ended mid-sample", nil)
	}
	return nil, nil
}

// DecodePCM16 converts 16-bit little-endian signed PCM bytes to float samples
// in [-1, 1). The input length must be even; a trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// EncodePCM16 converts float samples back to 16-bit little-endian PCM bytes,
// clamping out-of-range values. Used by the disk mirror and by playback.
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return data
}

// mp3Decoder accumulates the whole payload and decodes once at Flush. MPEG
// frames do not align with transport chunks, so compressed clips (disk reads,
// preloaded assets) are decoded in one pass; live synthesis streams PCM.
type mp3Decoder struct {
	buf bytes.Buffer
}

func (d *mp3Decoder) Decode(chunk []byte) ([]float32, error) {
	d.buf.Write(chunk)
	return nil, nil
}

func (d *mp3Decoder) Flush() ([]float32, error) {
	if d.buf.Len() == 0 {
		return nil, nil
	}
	samples, _, err := DecodeMP3(d.buf.Bytes())
	d.buf.Reset()
	return samples, err
}

// DecodeMP3 decodes a complete MP3 payload into float samples, returning the
// source sample rate. Output is interleaved stereo, matching go-mp3.
func DecodeMP3(data []byte) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, NewVoiceError(ErrorCodeDecode, "mp3 decode failed", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, NewVoiceError(ErrorCodeDecode, "mp3 read failed", err)
	}
	return DecodePCM16(pcm), dec.SampleRate(), nil
}
