// Package summary turns a stored transcript into a markdown meeting summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/transcript"
)

// FileSuffix is appended to the transcript's base name
const FileSuffix = "-summary.md"

// ErrEmptyTranscript is returned when the transcript has no text
var ErrEmptyTranscript = errors.New("transcript is empty")

// DefaultSystemPrompt is used when no prompt file is configured
const DefaultSystemPrompt = `You are a professional meeting summarizer. Your task is to analyze meeting transcriptions and create comprehensive, well-structured summaries.

Create a summary in markdown format with the following sections:

# Meeting Summary

## Key Discussion Points
- List the main topics discussed with brief explanations

## Decisions Made
- Document any decisions that were reached during the meeting

## Action Items
- List specific tasks, assignments, or follow-ups mentioned
- Include responsible parties if mentioned

## Important Questions Raised
- Document significant questions that were discussed
- Note if they were resolved or need follow-up

## Next Steps
- Outline any planned future actions or meetings

## Additional Notes
- Include any other relevant information, insights, or context

Guidelines:
- Be concise but comprehensive
- Use professional language
- Focus on actionable content
- Use bullet points and clear formatting
- If speakers can be identified, include relevant attributions`

// Prompt controls the chat completion
type Prompt struct {
	SystemPrompt string  `toml:"system_prompt"`
	Model        string  `toml:"model"`
	Temperature  float32 `toml:"temperature"`
	MaxTokens    int     `toml:"max_tokens"`
}

// DefaultPrompt returns the built-in prompt for model
func DefaultPrompt(model string) Prompt {
	if model == "" {
		model = openai.GPT4o
	}
	return Prompt{
		SystemPrompt: DefaultSystemPrompt,
		Model:        model,
		Temperature:  0.3,
		MaxTokens:    2000,
	}
}

// LoadPrompt overlays the TOML file at path on the default prompt.
// An empty path returns the default.
func LoadPrompt(path, model string) (Prompt, error) {
	prompt := DefaultPrompt(model)
	if path == "" {
		return prompt, nil
	}

	var file Prompt
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return Prompt{}, fmt.Errorf("failed to read summary prompt %s: %w", path, err)
	}
	if file.SystemPrompt != "" {
		prompt.SystemPrompt = file.SystemPrompt
	}
	if file.Model != "" {
		prompt.Model = file.Model
	}
	if file.Temperature > 0 {
		prompt.Temperature = file.Temperature
	}
	if file.MaxTokens > 0 {
		prompt.MaxTokens = file.MaxTokens
	}
	return prompt, nil
}

// Summarizer generates summaries with an OpenAI compatible chat model
type Summarizer struct {
	client *openai.Client
	prompt Prompt
	dir    string
	logger zerolog.Logger
}

// New creates a summarizer that writes into dir
func New(apiKey, baseURL string, prompt Prompt, dir string) *Summarizer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Summarizer{
		client: openai.NewClientWithConfig(config),
		prompt: prompt,
		dir:    dir,
		logger: observability.WithComponent("summary"),
	}
}

// Summarize returns the markdown summary of the transcript text
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.prompt.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.prompt.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Please summarize this meeting transcription:\n\n" + text},
		},
		Temperature: s.prompt.Temperature,
		MaxTokens:   s.prompt.MaxTokens,
	})
	if err != nil {
		observability.RecordError("summary_failed", "summary")
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("failed to generate summary: empty response from %s", s.prompt.Model)
	}

	return resp.Choices[0].Message.Content, nil
}

// SummarizeFile resolves name in transcriptDir, summarizes it and writes the
// markdown next to the other summaries. It returns the summary path.
func (s *Summarizer) SummarizeFile(ctx context.Context, transcriptDir, name string) (string, error) {
	path, err := transcript.Resolve(transcriptDir, name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &transcript.IOError{Path: path, Err: err}
	}

	logger := s.logger.With().Str("transcript", filepath.Base(path)).Str("model", s.prompt.Model).Logger()
	logger.Info().Int("bytes", len(data)).Msg("Generating summary")

	markdown, err := s.Summarize(ctx, string(data))
	if err != nil {
		logger.Error().Err(err).Msg("Summary failed")
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", &transcript.IOError{Path: s.dir, Err: err}
	}
	base := strings.TrimSuffix(filepath.Base(path), transcript.FileSuffix)
	out := filepath.Join(s.dir, strings.TrimSuffix(base, ".log")+FileSuffix)
	if err := os.WriteFile(out, []byte(markdown+"\n"), 0o644); err != nil {
		return "", &transcript.IOError{Path: out, Err: err}
	}

	logger.Info().Str("path", out).Msg("Summary written")
	return out, nil
}
