package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Format describes linear PCM audio
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Mono16 is the core format: mono, 16-bit little-endian PCM at sampleRate
func Mono16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitDepth: 16}
}

// FrameSize returns the number of bytes per sample frame
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// BytesPerSecond returns the data rate of the format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// BytesFor converts a duration to a frame-aligned byte count
func (f Format) BytesFor(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// DurationOf converts a byte count to a duration
func (f Format) DurationOf(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Valid reports whether the format can be used for chunking
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitDepth > 0 && f.BitDepth%8 == 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// SpeakerSpan attributes a byte range of the buffer to the speaker whose frames
// filled it. Spans of different speakers overlap where they talked at once.
type SpeakerSpan struct {
	Speaker string
	Start   int
	End     int
	Level   float64 // mean absolute sample amplitude
}

// driftTolerance is how far a speaker's stream may fall behind the recording
// clock before its next frame is placed at its arrival time
const driftTolerance = 200 * time.Millisecond

// Buffer accumulates the PCM audio of one recording window. Each speaker's
// frames are laid on a shared timeline and mixed where they overlap. It grows
// without bound while recording and is handed to the chunker as a whole on stop.
type Buffer struct {
	mu       sync.RWMutex
	format   Format
	data     []byte
	spans    []SpeakerSpan
	cursors  map[string]int // next write offset per speaker
	last     map[string]int // index of each speaker's latest span
	released bool

	// now is nil for audio that was not captured live
	now   func() time.Time
	start time.Time
}

// NewBuffer creates an empty buffer for live capture in format. Its timeline
// starts now.
func NewBuffer(format Format) *Buffer {
	return newBuffer(format, time.Now)
}

func newBuffer(format Format, now func() time.Time) *Buffer {
	b := &Buffer{
		format:  format,
		cursors: make(map[string]int),
		last:    make(map[string]int),
		now:     now,
	}
	if now != nil {
		b.start = now()
	}
	return b
}

// NewBufferFrom wraps already captured PCM, attributing it to one speaker
func NewBufferFrom(format Format, speaker string, pcm []byte) (*Buffer, error) {
	b := newBuffer(format, nil)
	if err := b.Write(speaker, pcm); err != nil {
		return nil, err
	}
	return b, nil
}

// Write places one frame from speaker after that speaker's previous frame and
// mixes it with whatever other speakers recorded there. A live stream that fell
// behind the recording clock, because the speaker joined late or paused, is
// moved forward to the frame's arrival time. Frames must hold whole sample frames.
func (b *Buffer) Write(speaker string, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	fs := b.format.FrameSize()
	if fs == 0 || len(frame)%fs != 0 {
		return &ChunkingError{Reason: fmt.Sprintf("frame of %d bytes is not aligned to %s sample frames", len(frame), b.format)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return fmt.Errorf("audio buffer already released")
	}

	pos := b.cursors[speaker]
	if b.now != nil {
		arrival := b.format.BytesFor(b.now().Sub(b.start)) - len(frame)
		if arrival-pos > b.format.BytesFor(driftTolerance) {
			pos = alignDown(arrival, fs)
		}
	}
	end := pos + len(frame)

	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	mix(b.data[pos:end], frame, b.format.BitDepth)
	b.cursors[speaker] = end

	level := meanLevel(frame, b.format.BitDepth)
	if i, ok := b.last[speaker]; ok && b.spans[i].End == pos {
		span := &b.spans[i]
		n := float64(span.End - span.Start)
		span.Level = (span.Level*n + level*float64(len(frame))) / (n + float64(len(frame)))
		span.End = end
	} else {
		b.last[speaker] = len(b.spans)
		b.spans = append(b.spans, SpeakerSpan{Speaker: speaker, Start: pos, End: end, Level: level})
	}

	return nil
}

// mix adds src into dst sample by sample, clipping at the 16-bit range. Other
// depths are not mixed; the newer frame wins.
func mix(dst, src []byte, bitDepth int) {
	if bitDepth != 16 {
		copy(dst, src)
		return
	}
	for i := 0; i+1 < len(src); i += 2 {
		sum := int32(int16(binary.LittleEndian.Uint16(dst[i:]))) + int32(int16(binary.LittleEndian.Uint16(src[i:])))
		sum = max(min(sum, math.MaxInt16), math.MinInt16)
		binary.LittleEndian.PutUint16(dst[i:], uint16(int16(sum)))
	}
}

func meanLevel(frame []byte, bitDepth int) float64 {
	if bitDepth != 16 || len(frame) < 2 {
		return 0
	}
	var total float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		total += math.Abs(float64(int16(binary.LittleEndian.Uint16(frame[2*i:]))))
	}
	return total / float64(n)
}

// Format returns the buffer's audio format
func (b *Buffer) Format() Format {
	return b.format
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Duration returns the buffered audio duration
func (b *Buffer) Duration() time.Duration {
	return b.format.DurationOf(b.Len())
}

// Bytes returns the buffered PCM. The slice must not be modified.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// DominantSpeaker returns the speaker that contributed most to [start, end).
// Where speakers overlap, each byte counts in proportion to the speaker's
// level, so the louder voice wins.
func (b *Buffer) DominantSpeaker(start, end int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	totals := make(map[string]float64)
	best, bestWeight := "", 0.0
	for _, s := range b.spans {
		lo, hi := max(s.Start, start), min(s.End, end)
		if hi <= lo {
			continue
		}
		totals[s.Speaker] += float64(hi-lo) * (1 + s.Level)
		if totals[s.Speaker] > bestWeight {
			best, bestWeight = s.Speaker, totals[s.Speaker]
		}
	}
	return best
}

// Speakers returns every speaker heard so far in order of first appearance
func (b *Buffer) Speakers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	seen := make(map[string]bool)
	for _, s := range b.spans {
		if s.Speaker == "" || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

// Release drops the buffered audio. Further writes fail.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.spans = nil
	b.cursors = nil
	b.last = nil
	b.released = true
}
