package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/scribe/internal/audio"
)

const defaultLocalTimeout = 10 * time.Minute

// LocalWhisperEngine calls a faster-whisper sidecar running on the same host
type LocalWhisperEngine struct {
	url      string
	model    string
	language string
	beamSize int
	client   *http.Client
}

// NewLocalWhisperEngine creates a sidecar engine
func NewLocalWhisperEngine(url, model, language string, beamSize int) *LocalWhisperEngine {
	return &LocalWhisperEngine{
		url:      strings.TrimRight(url, "/"),
		model:    model,
		language: language,
		beamSize: beamSize,
		client:   &http.Client{Timeout: defaultLocalTimeout},
	}
}

// Name implements Engine
func (e *LocalWhisperEngine) Name() string {
	return "whisper-local"
}

// Health implements HealthChecker
func (e *LocalWhisperEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper sidecar unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// Transcribe implements Engine
func (e *LocalWhisperEngine) Transcribe(ctx context.Context, req *Request) (*Transcription, error) {
	wav, err := audio.EncodeWAV(req.Audio, req.Format)
	if err != nil {
		return nil, err
	}

	language := req.Language
	if language == "" {
		language = e.language
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", fmt.Sprintf("chunk-%d.wav", req.Index))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	_ = writer.WriteField("model", e.model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	if e.beamSize > 0 {
		_ = writer.WriteField("beam_size", strconv.Itoa(e.beamSize))
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/transcribe", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("whisper error: %s", strings.TrimSpace(string(body))),
		}
	}

	var result localWhisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	out := &Transcription{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
	}
	for _, seg := range result.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			Start: secondsToDuration(seg.Start),
			End:   secondsToDuration(seg.End),
			Text:  text,
		})
	}
	return out, nil
}

type localWhisperResponse struct {
	Text     string                `json:"text"`
	Segments []localWhisperSegment `json:"segments"`
	Language string                `json:"language"`
}

type localWhisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
