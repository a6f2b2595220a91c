package butler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutti-audio/tutti-core/pkg/wavfile"
)

func writeFixtureWAV(t *testing.T, path string, frames int) {
	t.Helper()
	w, err := wavfile.Create(path, 44100, 2)
	require.NoError(t, err)
	samples := make([]float32, frames*2)
	for i := range samples {
		samples[i] = float32(i%100) / 100
	}
	require.NoError(t, w.WriteFrames(samples))
	require.NoError(t, w.Close())
}

func TestHashFileChangesWithSizeAndMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	h1 := hashFile(path, info)

	require.NoError(t, os.WriteFile(path, []byte("hello!"), 0o644))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	h2 := hashFile(path, info2)
	assert.NotEqual(t, h1, h2, "different size must change the hash")

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	info3, err := os.Stat(path)
	require.NoError(t, err)
	h3 := hashFile(path, info3)
	assert.NotEqual(t, h2, h3, "different mtime must change the hash")
}

func TestHashFileStableForSamePathSizeAndMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, hashFile(path, info), hashFile(path, info))
}

func TestHashInMemorySamplesDeterministicAndSensitiveToLength(t *testing.T) {
	a := make([]float32, 2500)
	for i := range a {
		a[i] = float32(i)
	}
	b := make([]float32, len(a))
	copy(b, a)
	assert.Equal(t, hashInMemorySamples(a), hashInMemorySamples(b))

	b = append(b, 1)
	assert.NotEqual(t, hashInMemorySamples(a), hashInMemorySamples(b))
}

func TestHashInMemorySamplesSensitiveToSampledValue(t *testing.T) {
	a := make([]float32, 2500)
	b := make([]float32, 2500)
	copy(b, a)
	b[0] = 1 // index 0 is always sampled (stride starts at 0)
	assert.NotEqual(t, hashInMemorySamples(a), hashInMemorySamples(b))
}

func TestFileCacheLoadDecodesAndCachesByHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region.wav")
	writeFixtureWAV(t, path, 10)

	c := newFileCache()
	df, err := c.load(path, 44100)
	require.NoError(t, err)
	assert.Len(t, df.frames, 10)
	assert.Len(t, c.entries, 1)

	df2, err := c.load(path, 44100)
	require.NoError(t, err)
	assert.Same(t, df, df2, "second load for the same file must hit the cache")
}

func TestFileCacheEvictsLeastRecentlyUsedBeyondCap(t *testing.T) {
	dir := t.TempDir()
	c := newFileCache()

	paths := make([]string, decodedFileCacheCap+1)
	for i := range paths {
		paths[i] = filepath.Join(dir, filepathName(i))
		writeFixtureWAV(t, paths[i], 4)
		_, err := c.load(paths[i], 44100)
		require.NoError(t, err)
	}

	assert.Len(t, c.entries, decodedFileCacheCap)

	firstInfo, err := os.Stat(paths[0])
	require.NoError(t, err)
	firstKey := hashFile(paths[0], firstInfo)
	_, stillCached := c.entries[firstKey]
	assert.False(t, stillCached, "oldest entry should have been evicted")
}

func filepathName(i int) string {
	return "f" + string(rune('a'+i)) + ".wav"
}

func TestFileCacheLoadErrorsOnMissingFile(t *testing.T) {
	c := newFileCache()
	_, err := c.load(filepath.Join(t.TempDir(), "missing.wav"), 44100)
	assert.Error(t, err)
}
