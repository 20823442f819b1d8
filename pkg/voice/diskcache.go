package voice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	gap "github.com/muesli/go-app-paths"
)

// diskReadChunk is the read size for streaming clips off disk.
const diskReadChunk = 8 * 1024

// compressedExt marks zstd-compressed cache files.
const compressedExt = ".zst"

// DiskCache persists completed clips and streams them back into sample
// buffers exactly as a network transport would, so upstream code never cares
// whether bytes came from disk or the wire.
//
// Files live at <base-location>/<relative-path>/<identity>.<ext>, with a
// trailing .zst when compression is enabled. The base location is resolved
// from the configured storage category.
type DiskCache struct {
	cfg     DiskCacheConfig
	baseDir string
}

// NewDiskCache resolves the base directory for the configured location. The
// cache directory itself is created lazily on first write.
func NewDiskCache(cfg DiskCacheConfig) (*DiskCache, error) {
	baseDir := cfg.BaseDirOverride
	if baseDir == "" {
		var err error
		baseDir, err = resolveBaseDir(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("resolve cache location %q: %w", cfg.Location, err)
		}
	}
	return &DiskCache{cfg: cfg, baseDir: baseDir}, nil
}

// resolveBaseDir maps a storage category to a platform directory.
func resolveBaseDir(location CacheLocation) (string, error) {
	scope := gap.NewScope(gap.User, "speechstream")
	switch location {
	case LocationPersistent:
		return scope.CacheDir()
	case LocationPreload:
		dirs, err := scope.DataDirs()
		if err != nil {
			return "", err
		}
		if len(dirs) == 0 {
			return "", errors.New("no data directories available")
		}
		return dirs[0], nil
	case LocationTemporary:
		return filepath.Join(os.TempDir(), "speechstream"), nil
	default:
		return "", fmt.Errorf("unknown cache location %q", location)
	}
}

// ShouldCache reports whether a clip is eligible for disk caching at all.
// Streaming-only requests and empty identities are never cached; the preload
// area is read-only.
func (dc *DiskCache) ShouldCache(identity string, streamingOnly bool) bool {
	if dc == nil || !dc.cfg.Enabled || streamingOnly || identity == "" {
		return false
	}
	return dc.cfg.Location != LocationPreload
}

// PathFor returns the deterministic file path for a clip identity.
func (dc *DiskCache) PathFor(identity string) string {
	name := identity + "." + dc.cfg.AudioType.Extension()
	if dc.cfg.Compression {
		name += compressedExt
	}
	return filepath.Join(dc.baseDir, dc.cfg.RelativePath, name)
}

// Exists reports whether a non-empty cached file exists for the identity.
// Zero-length files are treated as absent: a writer that died before its
// first byte must never produce a cache hit.
func (dc *DiskCache) Exists(identity string) bool {
	if dc == nil || !dc.cfg.Enabled || identity == "" {
		return false
	}
	info, err := os.Stat(dc.PathFor(identity))
	return err == nil && info.Size() > 0
}

// Remove deletes the cached file for an identity, if present.
func (dc *DiskCache) Remove(identity string) {
	if dc == nil || identity == "" {
		return
	}
	if err := os.Remove(dc.PathFor(identity)); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove cached clip", "identity", identity, "error", err)
	}
}

// StreamInto reads a cached clip and feeds its samples into buf through the
// configured decoder, chunk by chunk, then sets the expected sample count
// from what arrived. The buffer goes through the same ready/complete
// transitions as a network-fed one.
func (dc *DiskCache) StreamInto(identity string, buf *SampleBuffer) error {
	if dc == nil || !dc.cfg.Enabled {
		return ErrDiskCacheDisabled
	}
	path := dc.PathFor(identity)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCacheMiss
		}
		return NewVoiceError(ErrorCodeDiskIO, "open cached clip", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if dc.cfg.Compression {
		zr, err := zstd.NewReader(file)
		if err != nil {
			return NewVoiceError(ErrorCodeDiskIO, "open compressed clip", err)
		}
		defer zr.Close()
		reader = zr
	}

	decoder, err := NewChunkDecoder(dc.cfg.AudioType)
	if err != nil {
		return err
	}

	chunk := make([]byte, diskReadChunk)
	total := 0
	for {
		n, readErr := reader.Read(chunk)
		if n > 0 {
			samples, decErr := decoder.Decode(chunk[:n])
			if decErr != nil {
				return decErr
			}
			buf.AddSamples(samples)
			total += len(samples)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return NewVoiceError(ErrorCodeDiskIO, "read cached clip", readErr)
		}
	}

	tail, err := decoder.Flush()
	if err != nil {
		return err
	}
	if len(tail) > 0 {
		buf.AddSamples(tail)
		total += len(tail)
	}

	if total == 0 {
		return NewVoiceError(ErrorCodeDiskIO, "cached clip is empty", nil)
	}
	buf.SetExpectedSamples(total)
	logger.Debug("streamed clip from disk", "identity", identity, "samples", total)
	return nil
}

// Writer opens an incremental writer for a clip. The clip is written to a
// temporary file and only renamed into place on Commit; Abort (or a Commit
// preceded by zero writes) leaves no file behind.
func (dc *DiskCache) Writer(identity string) (*ClipWriter, error) {
	if dc == nil || !dc.cfg.Enabled {
		return nil, ErrDiskCacheDisabled
	}
	path := dc.PathFor(identity)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		// Directory creation failure disables disk caching for this clip
		// without failing the request.
		return nil, NewVoiceError(ErrorCodeDiskIO, "create cache directory", err)
	}
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, NewVoiceError(ErrorCodeDiskIO, "create cache file", err)
	}

	w := &ClipWriter{path: path, file: file}
	if dc.cfg.Compression {
		w.zw, err = zstd.NewWriter(file)
		if err != nil {
			w.Abort()
			return nil, NewVoiceError(ErrorCodeDiskIO, "create compressed writer", err)
		}
	}
	return w, nil
}

// ClipWriter mirrors a clip's raw bytes to disk as they stream in.
type ClipWriter struct {
	path    string
	file    *os.File
	zw      *zstd.Encoder
	written int64
	done    bool
}

// Write appends raw codec bytes to the cache file.
func (w *ClipWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, NewVoiceError(ErrorCodeDiskIO, "writer already closed", nil)
	}
	var n int
	var err error
	if w.zw != nil {
		n, err = w.zw.Write(p)
	} else {
		n, err = w.file.Write(p)
	}
	w.written += int64(n)
	if err != nil {
		return n, NewVoiceError(ErrorCodeDiskIO, "write cache file", err)
	}
	return n, nil
}

// Commit finalizes the file and moves it into place. A commit with no bytes
// written behaves like Abort so a zero-length file can never be mistaken for
// a valid cache hit.
func (w *ClipWriter) Commit() error {
	if w.done {
		return nil
	}
	if w.written == 0 {
		w.Abort()
		return nil
	}
	w.done = true
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			w.discard()
			return NewVoiceError(ErrorCodeDiskIO, "finish compressed clip", err)
		}
	}
	if err := w.file.Close(); err != nil {
		w.discard()
		return NewVoiceError(ErrorCodeDiskIO, "close cache file", err)
	}
	if err := os.Rename(w.file.Name(), w.path); err != nil {
		w.discard()
		return NewVoiceError(ErrorCodeDiskIO, "commit cache file", err)
	}
	return nil
}

// Abort closes and deletes the partial file. Safe to call multiple times and
// after Commit.
func (w *ClipWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	if w.zw != nil {
		_ = w.zw.Close()
	}
	_ = w.file.Close()
	w.discard()
}

func (w *ClipWriter) discard() {
	if err := os.Remove(w.file.Name()); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to discard partial cache file", "path", w.file.Name(), "error", err)
	}
}
