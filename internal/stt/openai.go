package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/scribe/internal/audio"
)

// OpenAIEngine transcribes chunks with the hosted Whisper API
type OpenAIEngine struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIEngine creates a Whisper engine. baseURL may be empty.
func NewOpenAIEngine(apiKey, baseURL, model, language string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIEngine{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: language,
	}
}

// Name implements Engine
func (e *OpenAIEngine) Name() string {
	return "openai"
}

// Transcribe implements Engine
func (e *OpenAIEngine) Transcribe(ctx context.Context, req *Request) (*Transcription, error) {
	wav, err := audio.EncodeWAV(req.Audio, req.Format)
	if err != nil {
		return nil, NewPermanentError(err)
	}

	language := req.Language
	if language == "" {
		language = e.language
	}

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: fmt.Sprintf("chunk-%d.wav", req.Index),
		Reader:   bytes.NewReader(wav),
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := &Transcription{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
	}
	for _, seg := range resp.Segments {
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

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{Class: classifyStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &BackendError{Class: classifyStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	// Anything else failed before a response arrived
	return err
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
