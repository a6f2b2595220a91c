package butler

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio/wav"

	"github.com/tutti-audio/tutti-core/pkg/fileutil"
	"github.com/tutti-audio/tutti-core/pkg/ring"
)

// decodedFileCacheCap bounds how many distinct files the butler keeps
// fully decoded in memory, evicted least-recently-used (SPEC_FULL.md
// supplemented feature: the distilled spec names the cache but not its
// eviction policy).
const decodedFileCacheCap = 8

// decodedFile is a fully decoded region source: one stereo frame per
// sample, ready to be copied straight into a region ring.
type decodedFile struct {
	frames     []ring.Frame
	sampleRate int
}

// fileCache decodes region files once and serves every subsequent
// refill from memory, keyed by the on-disk file-hash contract (spec.md
// §6): path bytes + length + mtime, not file contents.
type fileCache struct {
	mu      sync.Mutex
	entries map[string]*decodedFile
	order   []string // LRU order, most-recently-used at the end
}

func newFileCache() *fileCache {
	return &fileCache{entries: make(map[string]*decodedFile)}
}

// hashFile computes the on-disk cache key: sha256 over (path bytes, file
// length, mtime seconds, mtime nanoseconds), per spec.md §6.
func hashFile(path string, info os.FileInfo) string {
	h := sha256.New()
	h.Write([]byte(path))
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(info.Size()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(info.ModTime().Unix()))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(info.ModTime().Nanosecond()))
	h.Write(buf[:])
	return fmt.Sprintf("%x", h.Sum(nil))
}

// hashInMemorySamples computes the in-memory cache key variant: length
// then every ⌈len/1000⌉-th sample's bit pattern paired with its index,
// per spec.md §6. Exposed for callers caching decoded buffers that never
// touched disk (e.g. a freshly recorded capture reused as a region).
func hashInMemorySamples(samples []float32) string {
	h := sha256.New()
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(samples)))
	h.Write(lenBuf[:])

	stride := (len(samples) + 999) / 1000
	if stride < 1 {
		stride = 1
	}
	var idxBuf [12]byte
	for i := 0; i < len(samples); i += stride {
		binary.LittleEndian.PutUint64(idxBuf[0:8], uint64(i))
		binary.LittleEndian.PutUint32(idxBuf[8:12], math.Float32bits(samples[i]))
		h.Write(idxBuf[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// load decodes path (resolving case-insensitively within its directory,
// per pkg/fileutil) at sampleRate, caching the result. Returns an error
// if the file cannot be read or decoded; callers drop the region and log
// out-of-band on failure (spec.md §4.9 failure modes).
func (c *fileCache) load(path string, sampleRate int) (*decodedFile, error) {
	resolved, info, err := statCaseInsensitive(path)
	if err != nil {
		return nil, err
	}
	key := hashFile(resolved, info)

	c.mu.Lock()
	if df, ok := c.entries[key]; ok {
		c.touch(key)
		c.mu.Unlock()
		return df, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("butler: read %q: %w", resolved, err)
	}
	stream, err := wav.DecodeWithSampleRate(sampleRate, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("butler: decode %q: %w", resolved, err)
	}
	frames, err := decodeToFrames(stream)
	if err != nil {
		return nil, fmt.Errorf("butler: decode %q: %w", resolved, err)
	}
	df := &decodedFile{frames: frames, sampleRate: sampleRate}

	c.mu.Lock()
	c.insert(key, df)
	c.mu.Unlock()
	return df, nil
}

func (c *fileCache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

func (c *fileCache) insert(key string, df *decodedFile) {
	if _, exists := c.entries[key]; exists {
		c.touch(key)
		return
	}
	c.entries[key] = df
	c.order = append(c.order, key)
	for len(c.order) > decodedFileCacheCap {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evict)
	}
}

// decodeToFrames reads a 16-bit little-endian stereo PCM stream (the
// decode-level representation ebiten/v2/audio/wav produces) to the
// float32 stereo frames the rest of the engine works in.
func decodeToFrames(r io.Reader) ([]ring.Frame, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	n := len(raw) / 4 // 2 channels * 2 bytes/sample
	frames := make([]ring.Frame, n)
	for i := 0; i < n; i++ {
		l := int16(binary.LittleEndian.Uint16(raw[i*4 : i*4+2]))
		r := int16(binary.LittleEndian.Uint16(raw[i*4+2 : i*4+4]))
		frames[i] = ring.Frame{L: float32(l) / 32768, R: float32(r) / 32768}
	}
	return frames, nil
}

// statCaseInsensitive resolves path exactly if possible, falling back to
// pkg/fileutil's case-insensitive directory search (cross-platform asset
// references are common in this engine's source material).
func statCaseInsensitive(path string) (string, os.FileInfo, error) {
	if info, err := os.Stat(path); err == nil {
		return path, info, nil
	}
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	resolved, err := fileutil.FindFileCaseInsensitive(dir, name)
	if err != nil {
		return "", nil, fmt.Errorf("butler: %q not found: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil, err
	}
	return resolved, info, nil
}
