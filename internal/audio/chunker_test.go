package audio

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lexiqai/scribe/internal/apperrors"
)

func silentBuffer(t *testing.T, format Format, d time.Duration) *Buffer {
	t.Helper()
	b, err := NewBufferFrom(format, "", make([]byte, format.BytesFor(d)))
	if err != nil {
		t.Fatalf("NewBufferFrom failed: %v", err)
	}
	return b
}

func TestChunker_SingleChunkBelowThreshold(t *testing.T) {
	format := Mono16(16000)
	buf := silentBuffer(t, format, 12*time.Second)

	chunks, err := NewChunker(DefaultChunkerConfig()).Split(buf)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Start != 0 || c.End != buf.Len() {
		t.Errorf("Expected chunk to span [0,%d), got [%d,%d)", buf.Len(), c.Start, c.End)
	}
	if c.Duration != 12*time.Second {
		t.Errorf("Expected 12s chunk, got %s", c.Duration)
	}
	if c.LeadingOverlap != 0 {
		t.Errorf("Expected no leading overlap, got %s", c.LeadingOverlap)
	}
}

func TestChunker_ExactlyAtThresholdIsOneChunk(t *testing.T) {
	format := Mono16(16000)
	buf := silentBuffer(t, format, 10*time.Second)

	chunks, err := NewChunker(ChunkerConfig{
		MaxBytes:    buf.Len(),
		MaxDuration: 2 * time.Second,
		Overlap:     500 * time.Millisecond,
		MinDuration: 100 * time.Millisecond,
	}).Split(buf)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("Expected 1 chunk for a buffer equal to the size threshold, got %d", len(chunks))
	}
}

func TestChunker_TwentyTwoMinutes(t *testing.T) {
	format := Mono16(16000)
	buf := silentBuffer(t, format, 22*time.Minute)

	chunks, err := NewChunker(DefaultChunkerConfig()).Split(buf)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	wantOffsets := []time.Duration{0, 595 * time.Second, 1190 * time.Second}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("Expected chunk index %d, got %d", i, c.Index)
		}
		if c.Offset != wantOffsets[i] {
			t.Errorf("Chunk %d: expected offset %s, got %s", i, wantOffsets[i], c.Offset)
		}
		if i > 0 && c.LeadingOverlap != 5*time.Second {
			t.Errorf("Chunk %d: expected 5s leading overlap, got %s", i, c.LeadingOverlap)
		}
		if c.Duration > 10*time.Minute {
			t.Errorf("Chunk %d: expected at most 10m, got %s", i, c.Duration)
		}
	}
	if chunks[2].End != buf.Len() {
		t.Errorf("Expected last chunk to end at %d, got %d", buf.Len(), chunks[2].End)
	}
}

func TestChunker_CoverageAndOverlapProperty(t *testing.T) {
	format := Mono16(8000)
	config := ChunkerConfig{
		MaxBytes:    format.BytesFor(3 * time.Second),
		MaxDuration: 2 * time.Second,
		Overlap:     250 * time.Millisecond,
		MinDuration: 100 * time.Millisecond,
	}
	overlapBytes := format.BytesFor(config.Overlap)

	for _, d := range []time.Duration{
		3*time.Second + 2*time.Millisecond,
		4 * time.Second,
		7*time.Second + 333*time.Millisecond,
		30 * time.Second,
		61*time.Second + 1*time.Millisecond,
	} {
		t.Run(d.String(), func(t *testing.T) {
			buf := silentBuffer(t, format, d)
			chunks, err := NewChunker(config).Split(buf)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if len(chunks) < 2 {
				t.Fatalf("Expected multiple chunks above the threshold, got %d", len(chunks))
			}

			if chunks[0].Start != 0 {
				t.Errorf("Expected first chunk to start at 0, got %d", chunks[0].Start)
			}
			for i := 1; i < len(chunks); i++ {
				shared := chunks[i-1].End - chunks[i].Start
				if shared != overlapBytes {
					t.Errorf("Boundary %d: expected %d shared bytes, got %d", i, overlapBytes, shared)
				}
				if chunks[i].End <= chunks[i-1].End {
					t.Errorf("Boundary %d: chunk adds no new audio", i)
				}
			}
			if last := chunks[len(chunks)-1]; last.End != buf.Len() {
				t.Errorf("Expected last chunk to end at %d, got %d", buf.Len(), last.End)
			}
			for _, c := range chunks {
				if len(c.Data) != c.End-c.Start {
					t.Errorf("Chunk %d: data length %d does not match range", c.Index, len(c.Data))
				}
				if c.Start%format.FrameSize() != 0 || c.End%format.FrameSize() != 0 {
					t.Errorf("Chunk %d: boundaries not frame aligned", c.Index)
				}
			}
		})
	}
}

func TestChunker_TooShort(t *testing.T) {
	format := Mono16(16000)

	for _, d := range []time.Duration{0, 50 * time.Millisecond, 99 * time.Millisecond} {
		t.Run(fmt.Sprint(d), func(t *testing.T) {
			buf := silentBuffer(t, format, d)
			chunks, err := NewChunker(DefaultChunkerConfig()).Split(buf)

			if len(chunks) != 0 {
				t.Errorf("Expected zero chunks, got %d", len(chunks))
			}
			if !errors.Is(err, ErrTooShort) {
				t.Errorf("Expected ErrTooShort, got %v", err)
			}
			if apperrors.KindOf(err) != apperrors.KindChunking {
				t.Errorf("Expected chunking kind, got %s", apperrors.KindOf(err))
			}
		})
	}
}

func TestChunker_InvalidWindow(t *testing.T) {
	format := Mono16(16000)
	buf := silentBuffer(t, format, 10*time.Second)

	_, err := NewChunker(ChunkerConfig{
		MaxBytes:    format.BytesFor(time.Second),
		MaxDuration: time.Second,
		Overlap:     2 * time.Second,
	}).Split(buf)

	var ce *ChunkingError
	if !errors.As(err, &ce) {
		t.Errorf("Expected *ChunkingError for overlap >= window, got %v", err)
	}
}

func TestChunker_SpeakerAttribution(t *testing.T) {
	format := Mono16(16000)
	clock := &fakeClock{t: time.Unix(0, 0)}
	buf := newBuffer(format, clock.now)
	clock.advance(4 * time.Second)
	buf.Write("alice", make([]byte, format.BytesFor(4*time.Second)))
	clock.advance(4 * time.Second)
	buf.Write("bob", make([]byte, format.BytesFor(4*time.Second)))

	chunks, err := NewChunker(ChunkerConfig{
		MaxBytes:    format.BytesFor(5 * time.Second),
		MaxDuration: 4 * time.Second,
		Overlap:     time.Second,
		MinDuration: 100 * time.Millisecond,
	}).Split(buf)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if chunks[0].Speaker != "alice" {
		t.Errorf("Expected first chunk attributed to alice, got %q", chunks[0].Speaker)
	}
	if chunks[len(chunks)-1].Speaker != "bob" {
		t.Errorf("Expected last chunk attributed to bob, got %q", chunks[len(chunks)-1].Speaker)
	}
}
