// Package butler implements the background disk-streaming worker
// (spec.md §4.9) and the transport-to-butler bridge (spec.md §4.10): the
// single non-realtime thread that owns every region producer, capture
// consumer, WAV writer, and the decoded-file cache.
package butler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tutti-audio/tutti-core/pkg/ring"
	"github.com/tutti-audio/tutti-core/pkg/wavfile"
)

// CommandKind is the closed set of butler commands (spec.md §6).
type CommandKind uint8

const (
	CmdRun CommandKind = iota
	CmdPause
	CmdWaitForCompletion
	CmdShutdown

	CmdRegisterProducer
	CmdRemoveRegion
	CmdSeekRegion

	CmdStreamAudioFile
	CmdStopStreaming
	CmdSetPlaybackPosition
	CmdSeekStream
	CmdSetLoopRange
	CmdClearLoopRange
	CmdSetBufferMargin

	CmdRegisterCapture
	CmdRemoveCapture
	CmdFlush
	CmdFlushAll
)

// Command is a tagged union over every butler command kind; unused
// fields for a given Kind are zero (spec.md §9: "sum types over dynamic
// dispatch").
type Command struct {
	Kind CommandKind

	RegionID  uint64
	CaptureID uint64
	Channel   int

	FilePath   string
	SampleRate int
	Channels   int

	SampleOffset    int64
	StartSeconds    float64
	DurationSeconds float64
	Offset          float64
	Speed           float64
	Gain            float64

	PositionSeconds  float64
	PositionSamples  int64
	LoopStartSamples int64
	LoopEndSamples   int64
	CrossfadeSamples int64
	BufferMargin     float64

	Force bool

	done chan struct{} // WaitForCompletion's signal, nil otherwise
}

// DefaultCommandQueueCapacity mirrors the transport command queue's
// sizing decision (spec.md §9 open question): comfortably above the
// >=128 floor.
const DefaultCommandQueueCapacity = 256

const (
	flushThresholdFrames = 4096
	minRingCapacity      = 4096

	baseRefillChunk = 2048

	// maxConcurrentRefills bounds how many region refills run at once
	// within a single refillAll pass, so a project with many streaming
	// channels doesn't open that many files against disk simultaneously.
	maxConcurrentRefills = 4
)

// stream is the butler's live state for one streaming channel: the
// region ring plus loop configuration and playback bookkeeping the
// bridge and refill logic consult.
type stream struct {
	region *ring.Region

	loopEnabled bool
	loopStart   int64
	loopEnd     int64

	speed float64
	gain  float64
}

// capture is the butler's live state for one recording channel.
type capture struct {
	ring   *ring.Capture
	writer *wavfile.Writer
}

// Butler runs the single background loop that owns all streaming and
// capture I/O. It is driven by Run, not by its own goroutine directly,
// so callers control lifecycle via an errgroup (spec.md §5: "Butler
// thread... background worker, non-RT").
type Butler struct {
	log *slog.Logger

	commands chan Command

	mu       sync.Mutex
	streams  map[int]*stream
	captures map[int]*capture
	cache    *fileCache

	refillSem *semaphore.Weighted

	bufferMargin float64
	paused       bool
}

// New creates a Butler; log may be nil (falls back to slog.Default()).
func New(log *slog.Logger) *Butler {
	if log == nil {
		log = slog.Default()
	}
	return &Butler{
		log:          log.With("component", "butler"),
		commands:     make(chan Command, DefaultCommandQueueCapacity),
		streams:      make(map[int]*stream),
		captures:     make(map[int]*capture),
		cache:        newFileCache(),
		refillSem:    semaphore.NewWeighted(maxConcurrentRefills),
		bufferMargin: 1.0,
	}
}

// Post enqueues a command for the butler loop, non-blocking; a full
// queue drops the command (spec.md §7: "Butler queue full ... Command
// dropped (non-fatal)").
func (b *Butler) Post(cmd Command) bool {
	select {
	case b.commands <- cmd:
		return true
	default:
		b.log.Warn("butler command queue full, dropping command", "kind", cmd.Kind)
		return false
	}
}

// WaitForCompletion posts a marker command and blocks until the loop has
// processed everything queued ahead of it.
func (b *Butler) WaitForCompletion(ctx context.Context) error {
	done := make(chan struct{})
	cmd := Command{Kind: CmdWaitForCompletion, done: done}
	if !b.Post(cmd) {
		return fmt.Errorf("butler: command queue full, could not enqueue WaitForCompletion")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the butler loop until ctx is canceled or a Shutdown command
// is processed, matching spec.md §4.9's command-poll/paused/idle/refill
// outline. Intended to be launched via errgroup.Group.Go.
func (b *Butler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.flushAll(true)
			return ctx.Err()
		default:
		}

		if shutdown := b.drainCommands(); shutdown {
			b.flushAll(true)
			return nil
		}

		if b.isPaused() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if b.isIdle() {
			time.Sleep(1 * time.Millisecond)
			continue
		}

		b.checkLoops()
		b.refillAll()
		b.flushCaptures(false)
	}
}

// RunGroup launches Run under g, returning immediately; used by the
// engine's session wiring to keep butler lifecycle alongside the rest of
// the errgroup-managed goroutines.
func (b *Butler) RunGroup(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return b.Run(ctx) })
}

func (b *Butler) isPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *Butler) isIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams) == 0 && len(b.captures) == 0
}

// drainCommands processes every queued command, returning true if a
// Shutdown was among them.
func (b *Butler) drainCommands() bool {
	for {
		select {
		case cmd := <-b.commands:
			if b.apply(cmd) {
				return true
			}
		default:
			return false
		}
	}
}

func (b *Butler) apply(cmd Command) (shutdown bool) {
	switch cmd.Kind {
	case CmdRun:
		b.mu.Lock()
		b.paused = false
		b.mu.Unlock()
	case CmdPause:
		b.mu.Lock()
		b.paused = true
		b.mu.Unlock()
	case CmdShutdown:
		return true
	case CmdWaitForCompletion:
		if cmd.done != nil {
			close(cmd.done)
		}

	case CmdRegisterProducer:
		b.registerRegion(cmd)
	case CmdRemoveRegion:
		b.removeStream(cmd.Channel)
	case CmdSeekRegion:
		b.seekRegion(cmd)

	case CmdStreamAudioFile:
		b.streamAudioFile(cmd)
	case CmdStopStreaming:
		b.removeStream(cmd.Channel)
	case CmdSetPlaybackPosition:
		b.seekStreamSeconds(cmd.Channel, cmd.PositionSeconds)
	case CmdSeekStream:
		b.seekStreamSamples(cmd.Channel, cmd.PositionSamples)
	case CmdSetLoopRange:
		b.setLoopRange(cmd)
	case CmdClearLoopRange:
		b.clearLoopRange(cmd.Channel)
	case CmdSetBufferMargin:
		b.mu.Lock()
		b.bufferMargin = cmd.BufferMargin
		b.mu.Unlock()

	case CmdRegisterCapture:
		b.registerCapture(cmd)
	case CmdRemoveCapture:
		b.removeCapture(cmd.Channel, true)
	case CmdFlush:
		b.flushOne(cmd.Channel, cmd.Force)
	case CmdFlushAll:
		b.flushCaptures(true)
	}
	return false
}

// ringCapacityForFileSize implements the adaptive buffer sizing policy
// (spec.md §4.9): small files get 30s of buffer, scaling down to 3s for
// huge files, floor 4096 samples, rounded up to the next power of two
// for the SPSC ring.
func ringCapacityForFileSize(fileBytes int64, sampleRate int) int {
	const (
		smallMax  = 10 << 20  // 10 MB
		mediumMax = 100 << 20 // 100 MB
		largeMax  = 500 << 20 // 500 MB
	)
	var seconds float64
	switch {
	case fileBytes <= smallMax:
		seconds = 30
	case fileBytes <= mediumMax:
		seconds = 10
	case fileBytes <= largeMax:
		seconds = 5
	default:
		seconds = 3
	}
	capacity := int(seconds * float64(sampleRate))
	if capacity < minRingCapacity {
		capacity = minRingCapacity
	}
	return nextPowerOfTwo(capacity)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (b *Butler) registerRegion(cmd Command) {
	info, err := os.Stat(cmd.FilePath)
	var capacity int
	if err != nil {
		capacity = minRingCapacity
	} else {
		capacity = ringCapacityForFileSize(info.Size(), cmd.SampleRate)
	}
	region := ring.NewRegion(cmd.RegionID, cmd.FilePath, 0, cmd.SampleRate, cmd.Channels, capacity)

	b.mu.Lock()
	b.streams[cmd.Channel] = &stream{region: region, speed: 1, gain: 1}
	b.mu.Unlock()
}

func (b *Butler) streamAudioFile(cmd Command) {
	c := cmd
	c.Kind = CmdRegisterProducer
	c.RegionID = uint64(cmd.Channel)
	b.registerRegion(c)

	b.mu.Lock()
	if s, ok := b.streams[cmd.Channel]; ok {
		s.speed = cmd.Speed
		if s.speed == 0 {
			s.speed = 1
		}
		s.gain = cmd.Gain
	}
	b.mu.Unlock()

	if cmd.StartSeconds > 0 {
		b.seekStreamSeconds(cmd.Channel, cmd.StartSeconds)
	}
}

func (b *Butler) removeStream(channel int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, channel)
}

// seekRegion clamps to file bounds, per spec.md §7 ("Seek target outside
// sample space ... Clamp to file bounds at butler level").
func (b *Butler) seekRegion(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.streams {
		if s.region.ID == cmd.RegionID {
			s.region.Seek(clampSamplePosition(cmd.SampleOffset, s.region.FileLengthSamples))
			return
		}
	}
}

func clampSamplePosition(pos, length int64) int64 {
	if pos < 0 {
		return 0
	}
	if length > 0 && pos > length {
		return length
	}
	return pos
}

func (b *Butler) seekStreamSeconds(channel int, seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[channel]
	if !ok {
		return
	}
	samples := int64(seconds * float64(s.region.FileSampleRate))
	s.region.Seek(clampSamplePosition(samples, s.region.FileLengthSamples))
}

func (b *Butler) seekStreamSamples(channel int, samples int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[channel]
	if !ok {
		return
	}
	s.region.Seek(clampSamplePosition(samples, s.region.FileLengthSamples))
}

func (b *Butler) setLoopRange(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[cmd.Channel]
	if !ok {
		return
	}
	if cmd.LoopEndSamples <= cmd.LoopStartSamples {
		s.loopEnabled = false
		return
	}
	s.loopStart = cmd.LoopStartSamples
	s.loopEnd = cmd.LoopEndSamples
	s.loopEnabled = true
}

func (b *Butler) clearLoopRange(channel int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[channel]; ok {
		s.loopEnabled = false
	}
}

// checkLoops implements spec.md §4.9's per-channel check_loop_condition:
// once the tracked file_position reaches the loop end, flush the
// consumer side and seek the producer back to loop start.
func (b *Butler) checkLoops() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.streams {
		if !s.loopEnabled {
			continue
		}
		if int64(s.region.FilePosition.Load()) >= s.loopEnd {
			s.region.DrainAll()
			s.region.Seek(s.loopStart)
		}
	}
}

// refillAll tops up every streaming channel's region ring through
// refillOne (which applies the adaptive-refill brackets of spec.md §4.9),
// bounding how many refills run at once with refillSem: each stream only touches its
// own region and FilePosition, so the reads can run concurrently, but an
// unbounded fan-out would open one file per streaming channel at once.
func (b *Butler) refillAll() {
	b.mu.Lock()
	streams := make([]*stream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range streams {
		if err := b.refillSem.Acquire(context.Background(), 1); err != nil {
			continue
		}
		wg.Add(1)
		go func(s *stream) {
			defer wg.Done()
			defer b.refillSem.Release(1)
			b.refillOne(s)
		}(s)
	}
	wg.Wait()
}

func (b *Butler) refillOne(s *stream) {
	fill := s.region.FillPercent()
	var chunk int
	switch {
	case fill < 0.10:
		chunk = baseRefillChunk * 2
	case fill < 0.25:
		chunk = baseRefillChunk
	case fill < 0.75:
		chunk = baseRefillChunk / 2
	default:
		return // healthy, skip
	}

	df, err := b.cache.load(s.region.FilePath, s.region.FileSampleRate)
	if err != nil {
		b.log.Warn("butler: region decode failed, dropping region", "path", s.region.FilePath, "error", err)
		return
	}
	if s.region.FileLengthSamples == 0 {
		s.region.FileLengthSamples = int64(len(df.frames))
	}

	pos := int64(s.region.FilePosition.Load())
	buf := make([]ring.Frame, chunk)
	for i := range buf {
		idx := pos + int64(i)
		if idx >= 0 && int(idx) < len(df.frames) {
			buf[i] = df.frames[idx]
		} else {
			buf[i] = ring.Frame{} // pad with silence past end-of-file
		}
	}
	n := s.region.Push(buf)
	s.region.FilePosition.Store(uint64(pos + int64(n)))
}

func (b *Butler) registerCapture(cmd Command) {
	w, err := wavfile.Create(cmd.FilePath, cmd.SampleRate, cmd.Channels)
	if err != nil {
		b.log.Error("butler: capture file create failed", "path", cmd.FilePath, "error", err)
		return
	}
	c := &capture{
		ring:   ring.NewCapture(cmd.CaptureID, cmd.FilePath, cmd.SampleRate, cmd.Channels, minRingCapacity),
		writer: w,
	}
	b.mu.Lock()
	b.captures[cmd.Channel] = c
	b.mu.Unlock()
}

func (b *Butler) removeCapture(channel int, finalize bool) {
	b.mu.Lock()
	c, ok := b.captures[channel]
	if ok {
		delete(b.captures, channel)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if finalize {
		drainCaptureRing(c)
		if err := c.writer.Close(); err != nil {
			b.log.Error("butler: capture finalize failed", "path", c.ring.OutputFilePath, "error", err)
		}
	}
}

func (b *Butler) flushOne(channel int, force bool) {
	b.mu.Lock()
	c, ok := b.captures[channel]
	b.mu.Unlock()
	if !ok {
		return
	}
	if force || c.ring.ReadSpace() >= flushThresholdFrames {
		b.flushCapture(c)
	}
}

func (b *Butler) flushCaptures(force bool) {
	b.mu.Lock()
	captures := make([]*capture, 0, len(b.captures))
	for _, c := range b.captures {
		captures = append(captures, c)
	}
	b.mu.Unlock()

	for _, c := range captures {
		if force || c.ring.ReadSpace() >= flushThresholdFrames {
			b.flushCapture(c)
		}
	}
}

func (b *Butler) flushCapture(c *capture) {
	buf := make([]ring.Frame, flushThresholdFrames)
	for {
		n := c.ring.Drain(buf)
		if n == 0 {
			return
		}
		samples := make([]float32, 0, n*c.ring.Channels)
		for i := 0; i < n; i++ {
			samples = append(samples, buf[i].L)
			if c.ring.Channels > 1 {
				samples = append(samples, buf[i].R)
			}
		}
		if err := c.writer.WriteFrames(samples); err != nil {
			b.log.Error("butler: capture flush failed", "path", c.ring.OutputFilePath, "error", err)
			return // degraded: stop flushing this capture, others continue
		}
		if n < len(buf) {
			return
		}
	}
}

func drainCaptureRing(c *capture) {
	buf := make([]ring.Frame, flushThresholdFrames)
	for {
		n := c.ring.Drain(buf)
		if n == 0 {
			return
		}
		samples := make([]float32, 0, n*c.ring.Channels)
		for i := 0; i < n; i++ {
			samples = append(samples, buf[i].L)
			if c.ring.Channels > 1 {
				samples = append(samples, buf[i].R)
			}
		}
		c.writer.WriteFrames(samples)
		if n < len(buf) {
			return
		}
	}
}

// flushAll finalizes every capture's WAV file, used on Shutdown/ctx
// cancellation (spec.md §5: "Butler Shutdown flushes all captures and
// exits").
func (b *Butler) flushAll(finalize bool) {
	b.mu.Lock()
	channels := make([]int, 0, len(b.captures))
	for ch := range b.captures {
		channels = append(channels, ch)
	}
	b.mu.Unlock()
	for _, ch := range channels {
		b.removeCapture(ch, finalize)
	}
}

// RegisterRegion exposes region registration directly for tests and
// callers that already hold a ring.Region (bypassing the command queue).
func (b *Butler) RegisterRegion(channel int, r *ring.Region) {
	b.mu.Lock()
	b.streams[channel] = &stream{region: r, speed: 1, gain: 1}
	b.mu.Unlock()
}

// Region returns the ring.Region registered for channel, if any.
func (b *Butler) Region(channel int) (*ring.Region, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[channel]
	if !ok {
		return nil, false
	}
	return s.region, true
}

// Capture returns the ring.Capture registered for channel, if any, so the
// audio thread can push captured frames into it without going through the
// command queue.
func (b *Butler) Capture(channel int) (*ring.Capture, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.captures[channel]
	if !ok {
		return nil, false
	}
	return c.ring, true
}

// CaptureFramesWritten reports how many frames have been flushed to disk
// for channel's capture so far, without removing it.
func (b *Butler) CaptureFramesWritten(channel int) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.captures[channel]
	if !ok {
		return 0, false
	}
	return c.ring.FramesWritten.Load(), true
}

// FinalizeCapture flushes and removes channel's capture synchronously,
// returning the total frames written to its WAV file. Unlike the queued
// commands, this runs directly against Butler's own state (still guarded
// by its mutex): stop_recording needs the finished file's frame count
// immediately, and the command queue gives no such readback path
// (spec.md §4.11: "read back the resulting file metadata").
func (b *Butler) FinalizeCapture(channel int) (uint64, error) {
	b.mu.Lock()
	c, ok := b.captures[channel]
	if ok {
		delete(b.captures, channel)
	}
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("butler: no capture registered on channel %d", channel)
	}

	drainCaptureRing(c)
	frames := c.ring.FramesWritten.Load()
	if err := c.writer.Close(); err != nil {
		return frames, fmt.Errorf("butler: capture finalize on channel %d: %w", channel, err)
	}
	return frames, nil
}
