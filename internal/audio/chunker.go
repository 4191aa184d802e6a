package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/scribe/internal/apperrors"
)

// ErrTooShort is reported when a recording is below the minimal audible duration
var ErrTooShort = errors.New("audio too short")

// ChunkingError reports malformed or unusable audio
type ChunkingError struct {
	Reason string
	Err    error
}

func (e *ChunkingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunking: %s: %v", e.Reason, e.Err)
	}
	return "chunking: " + e.Reason
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// ErrorKind implements apperrors.Kinder
func (e *ChunkingError) ErrorKind() apperrors.Kind { return apperrors.KindChunking }

// Chunk is one transcription unit. Data aliases the source buffer.
type Chunk struct {
	Index          int
	Start          int           // Byte offset in the source buffer
	End            int           // Exclusive
	Offset         time.Duration // Start time relative to the recording start
	Duration       time.Duration
	LeadingOverlap time.Duration // Audio shared with the previous chunk (0 for the first)
	Speaker        string
	Format         Format
	Data           []byte
}

// ChunkerConfig bounds the chunks produced by a Chunker
type ChunkerConfig struct {
	MaxBytes    int           // Buffers at or below this size become a single chunk
	MaxDuration time.Duration // Window length once a buffer exceeds MaxBytes
	Overlap     time.Duration // Audio shared by consecutive chunks
	MinDuration time.Duration // Shorter buffers yield ErrTooShort
}

// DefaultChunkerConfig mirrors the hosted Whisper upload limits
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxBytes:    24 * 1024 * 1024,
		MaxDuration: 10 * time.Minute,
		Overlap:     5 * time.Second,
		MinDuration: 100 * time.Millisecond,
	}
}

// Chunker splits recordings into overlapping, size and duration bounded chunks
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a chunker
func NewChunker(config ChunkerConfig) *Chunker {
	return &Chunker{config: config}
}

// Config returns the chunker limits
func (c *Chunker) Config() ChunkerConfig {
	return c.config
}

// Split cuts buf into chunks covering it with no gaps. Consecutive chunks share
// exactly Overlap of audio.
func (c *Chunker) Split(buf *Buffer) ([]Chunk, error) {
	if buf == nil {
		return nil, &ChunkingError{Reason: "no audio buffer"}
	}

	format := buf.Format()
	if !format.Valid() {
		return nil, &ChunkingError{Reason: fmt.Sprintf("invalid audio format %s", format)}
	}

	data := buf.Bytes()
	frame := format.FrameSize()
	if len(data)%frame != 0 {
		return nil, &ChunkingError{Reason: fmt.Sprintf("buffer of %d bytes is not aligned to %d-byte frames", len(data), frame)}
	}

	duration := format.DurationOf(len(data))
	if len(data) == 0 || duration < c.config.MinDuration {
		return nil, &ChunkingError{
			Reason: fmt.Sprintf("%s is below the %s minimum", duration, c.config.MinDuration),
			Err:    ErrTooShort,
		}
	}

	threshold := alignDown(c.config.MaxBytes, frame)
	window := threshold
	if c.config.MaxDuration > 0 {
		byDuration := format.BytesFor(c.config.MaxDuration)
		if window <= 0 || byDuration < window {
			window = byDuration
		}
		if threshold <= 0 {
			threshold = byDuration
		}
	}

	if threshold <= 0 || len(data) <= threshold {
		return []Chunk{c.chunk(buf, data, 0, 0, len(data), 0)}, nil
	}

	overlap := format.BytesFor(c.config.Overlap)
	if window <= overlap {
		return nil, &ChunkingError{Reason: fmt.Sprintf("chunk window of %d bytes does not exceed the %d-byte overlap", window, overlap)}
	}

	var chunks []Chunk
	start, lead := 0, 0
	for {
		end := min(start+window, len(data))
		chunks = append(chunks, c.chunk(buf, data, len(chunks), start, end, lead))
		if end == len(data) {
			break
		}
		start = end - overlap
		lead = overlap
	}

	return chunks, nil
}

func (c *Chunker) chunk(buf *Buffer, data []byte, index, start, end, lead int) Chunk {
	format := buf.Format()
	return Chunk{
		Index:          index,
		Start:          start,
		End:            end,
		Offset:         format.DurationOf(start),
		Duration:       format.DurationOf(end - start),
		LeadingOverlap: format.DurationOf(lead),
		Speaker:        buf.DominantSpeaker(start+lead, end),
		Format:         format,
		Data:           data[start:end:end],
	}
}

func alignDown(n, frame int) int {
	if n <= 0 || frame <= 0 {
		return n
	}
	return n - n%frame
}
