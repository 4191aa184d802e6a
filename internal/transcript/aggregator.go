// Package transcript merges chunk results into a single ordered transcript and
// persists it as a flat log file.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/stt"
)

// GapMarker stands in for the text of a chunk that could not be transcribed
const GapMarker = "[transcription unavailable]"

const (
	minOverlapWords = 2
	maxOverlapWords = 64
)

// Line is one utterance of the transcript
type Line struct {
	Offset  time.Duration // Relative to the recording start
	Speaker string
	Text    string
	Gap     bool
}

// String renders the line as written to the transcript file
func (l Line) String() string {
	if l.Speaker == "" {
		return l.Text
	}
	return l.Speaker + ": " + l.Text
}

// Transcript is the merged output of one recording
type Transcript struct {
	Text   string
	Lines  []Line
	Gaps   []int // Indices of chunks that failed
	Chunks int
}

// Failed reports whether no chunk produced a result
func (t *Transcript) Failed() bool {
	return t.Chunks > 0 && len(t.Gaps) == t.Chunks
}

// Aggregate merges exactly one result per chunk, in chunk index order.
// Text repeated by the overlap between consecutive chunks is removed.
func Aggregate(chunks []audio.Chunk, results []stt.Result) (*Transcript, error) {
	byIndex := make(map[int]stt.Result, len(results))
	for _, r := range results {
		if _, dup := byIndex[r.ChunkIndex]; dup {
			return nil, fmt.Errorf("duplicate result for chunk %d", r.ChunkIndex)
		}
		byIndex[r.ChunkIndex] = r
	}
	if len(byIndex) != len(chunks) {
		return nil, fmt.Errorf("got %d results for %d chunks", len(byIndex), len(chunks))
	}

	ordered := make([]audio.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	t := &Transcript{Chunks: len(ordered)}
	var texts []string
	var tail []string // Normalized words of the accumulated text
	prevOk := false

	for _, c := range ordered {
		r, ok := byIndex[c.Index]
		if !ok {
			return nil, fmt.Errorf("missing result for chunk %d", c.Index)
		}

		speaker := r.Speaker
		if speaker == "" {
			speaker = c.Speaker
		}

		if r.Status == stt.StatusFailed {
			t.Gaps = append(t.Gaps, c.Index)
			t.Lines = append(t.Lines, Line{Offset: c.Offset, Speaker: speaker, Text: GapMarker, Gap: true})
			prevOk = false
			continue
		}

		// Only trim against text we actually kept; after a gap the overlap audio
		// is represented nowhere else
		trim := prevOk && c.LeadingOverlap > 0
		prevOk = true

		var chunkText string
		if len(r.Segments) > 0 {
			var kept []string
			for _, seg := range r.Segments {
				if trim && (seg.Start+seg.End)/2 < c.LeadingOverlap {
					continue
				}
				text := strings.TrimSpace(seg.Text)
				if text == "" {
					continue
				}
				kept = append(kept, text)
				t.Lines = append(t.Lines, Line{Offset: c.Offset + seg.Start, Speaker: speaker, Text: text})
			}
			chunkText = strings.Join(kept, " ")
		} else {
			words := strings.Fields(r.Text)
			if trim {
				words = words[overlapLength(tail, words):]
			}
			chunkText = strings.Join(words, " ")
			if chunkText != "" {
				t.Lines = append(t.Lines, Line{Offset: c.Offset, Speaker: speaker, Text: chunkText})
			}
		}

		if chunkText == "" {
			continue
		}
		texts = append(texts, chunkText)
		tail = append(tail, normalizeWords(strings.Fields(chunkText))...)
		if len(tail) > maxOverlapWords {
			tail = tail[len(tail)-maxOverlapWords:]
		}
	}

	t.Text = strings.Join(texts, " ")
	return t, nil
}

// overlapLength returns how many leading words of head repeat the end of tail.
// Runs shorter than minOverlapWords are not considered repeats.
func overlapLength(tail, head []string) int {
	normalized := normalizeWords(head)
	limit := min(len(tail), len(normalized), maxOverlapWords)

	for k := limit; k >= minOverlapWords; k-- {
		if equalWords(tail[len(tail)-k:], normalized[:k]) {
			return k
		}
	}
	return 0
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalizeWords(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) {
				return -1
			}
			return unicode.ToLower(r)
		}, w)
	}
	return out
}
