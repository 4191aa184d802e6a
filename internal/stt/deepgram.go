package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	deepgramFrameBytes = 8192
	deepgramIdleWait   = 3 * time.Second
)

// deepgramStream is the part of the live client the engine drives
type deepgramStream interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finalize() error
	Finish()
}

// deepgramDialer opens a live session that reports to callback
type deepgramDialer func(ctx context.Context, apiKey string, options *interfaces.LiveTranscriptionOptions, callback msginterfaces.LiveMessageCallback) (deepgramStream, error)

func dialDeepgram(ctx context.Context, apiKey string, options *interfaces.LiveTranscriptionOptions, callback msginterfaces.LiveMessageCallback) (deepgramStream, error) {
	client, err := listenClient.NewWSUsingCallback(ctx, apiKey, nil, options, callback)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// deepgramCollector gathers the final results of one live session. It embeds
// the default handler and overrides only Message and Error.
type deepgramCollector struct {
	*websocketv1api.DefaultCallbackHandler

	mu        sync.Mutex
	segments  []Segment
	failure   error
	finalized bool
	activity  chan struct{}
}

func newDeepgramCollector() *deepgramCollector {
	return &deepgramCollector{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		activity:               make(chan struct{}, 1),
	}
}

func (c *deepgramCollector) Message(msg *msginterfaces.MessageResponse) error {
	defer c.notify()
	if msg == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.FromFinalize {
		c.finalized = true
	}
	if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if text == "" {
		return nil
	}
	c.segments = append(c.segments, Segment{
		Start: secondsToDuration(msg.Start),
		End:   secondsToDuration(msg.Start + msg.Duration),
		Text:  text,
	})
	return nil
}

func (c *deepgramCollector) Error(errorResponse *msginterfaces.ErrorResponse) error {
	err := fmt.Errorf("deepgram error")
	if errorResponse != nil {
		err = fmt.Errorf("deepgram error %s: %s %s", errorResponse.ErrCode, errorResponse.ErrMsg, errorResponse.Description)
	}

	c.mu.Lock()
	if c.failure == nil {
		c.failure = classifyDeepgramError(err)
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *deepgramCollector) notify() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *deepgramCollector) status() (finalized bool, failure error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized, c.failure
}

func (c *deepgramCollector) result(language string) *Transcription {
	c.mu.Lock()
	defer c.mu.Unlock()

	texts := make([]string, len(c.segments))
	for i, s := range c.segments {
		texts[i] = s.Text
	}
	segments := make([]Segment, len(c.segments))
	copy(segments, c.segments)
	return &Transcription{Text: strings.Join(texts, " "), Segments: segments, Language: language}
}

// DeepgramEngine streams each chunk through a Deepgram live session and
// collects the final results
type DeepgramEngine struct {
	apiKey   string
	model    string
	language string
	idleWait time.Duration
	dial     deepgramDialer
}

// NewDeepgramEngine creates a Deepgram engine
func NewDeepgramEngine(apiKey, model, language string) *DeepgramEngine {
	return &DeepgramEngine{
		apiKey:   apiKey,
		model:    model,
		language: language,
		idleWait: deepgramIdleWait,
		dial:     dialDeepgram,
	}
}

// Name implements Engine
func (e *DeepgramEngine) Name() string {
	return "deepgram"
}

// Transcribe implements Engine. After the chunk is sent the session is
// finalized so Deepgram flushes its buffered audio. The result is complete when
// the flushed response arrives, or once the session has been quiet for idleWait
// if it never does.
func (e *DeepgramEngine) Transcribe(ctx context.Context, req *Request) (*Transcription, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	language := req.Language
	if language == "" {
		language = e.language
	}

	collector := newDeepgramCollector()
	client, err := e.dial(ctx, e.apiKey, &interfaces.LiveTranscriptionOptions{
		Model:      e.model,
		Language:   language,
		Punctuate:  true,
		Encoding:   "linear16",
		Channels:   req.Format.Channels,
		SampleRate: req.Format.SampleRate,
	}, collector)
	if err != nil {
		return nil, classifyDeepgramError(fmt.Errorf("failed to create Deepgram client: %w", err))
	}
	defer client.Finish()

	if !client.Connect() {
		return nil, NewTransientError(fmt.Errorf("failed to connect to Deepgram"))
	}

	for off := 0; off < len(req.Audio); off += deepgramFrameBytes {
		end := min(off+deepgramFrameBytes, len(req.Audio))
		if _, err := client.Write(req.Audio[off:end]); err != nil {
			return nil, NewTransientError(fmt.Errorf("failed to send audio to Deepgram: %w", err))
		}
	}

	finalizing := true
	if err := client.Finalize(); err != nil {
		finalizing = false
	}

	timer := time.NewTimer(e.idleWait)
	defer timer.Stop()
	for {
		finalized, failure := collector.status()
		if failure != nil {
			return nil, failure
		}
		if finalizing && finalized {
			return collector.result(language), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-collector.activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(e.idleWait)
		case <-timer.C:
			if _, failure := collector.status(); failure != nil {
				return nil, failure
			}
			return collector.result(language), nil
		}
	}
}

// classifyDeepgramError separates credential and request errors from outages
func classifyDeepgramError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"401", "403", "unauthorized", "forbidden", "invalid", "400"} {
		if strings.Contains(msg, permanent) {
			return NewPermanentError(err)
		}
	}
	return NewTransientError(err)
}
