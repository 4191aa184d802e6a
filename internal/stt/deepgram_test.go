package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/lexiqai/scribe/internal/audio"
)

// fakeDeepgramStream stands in for the live websocket client
type fakeDeepgramStream struct {
	callback    msginterfaces.LiveMessageCallback
	connectFail bool
	writeErr    error
	finalizeErr error
	onFinalize  func(cb msginterfaces.LiveMessageCallback)

	mu        sync.Mutex
	written   int
	finalized bool
	finished  bool
}

func (s *fakeDeepgramStream) Connect() bool { return !s.connectFail }

func (s *fakeDeepgramStream) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.mu.Lock()
	s.written += len(p)
	s.mu.Unlock()
	return len(p), nil
}

func (s *fakeDeepgramStream) Finalize() error {
	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()
	if s.onFinalize != nil {
		go s.onFinalize(s.callback)
	}
	return s.finalizeErr
}

func (s *fakeDeepgramStream) Finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func deepgramEngine(stream *fakeDeepgramStream, idleWait time.Duration) (*DeepgramEngine, *interfaces.LiveTranscriptionOptions) {
	e := NewDeepgramEngine("key", "nova-2", "en")
	e.idleWait = idleWait
	var opts interfaces.LiveTranscriptionOptions
	e.dial = func(ctx context.Context, apiKey string, options *interfaces.LiveTranscriptionOptions, callback msginterfaces.LiveMessageCallback) (deepgramStream, error) {
		stream.callback = callback
		opts = *options
		return stream, nil
	}
	return e, &opts
}

func result(text string, start, duration float64, final, fromFinalize bool) *msginterfaces.MessageResponse {
	return &msginterfaces.MessageResponse{
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: text}},
		},
		Start:        start,
		Duration:     duration,
		IsFinal:      final,
		FromFinalize: fromFinalize,
	}
}

func deepgramRequest() *Request {
	return &Request{Index: 0, Audio: make([]byte, 20000), Format: audio.Mono16(16000)}
}

func TestDeepgram_FinalizeEndsWaitEarly(t *testing.T) {
	stream := &fakeDeepgramStream{
		onFinalize: func(cb msginterfaces.LiveMessageCallback) {
			cb.Message(result("hel", 0, 0.5, false, false))
			cb.Message(result("hello", 0, 1, true, false))
			cb.Message(result("world", 1, 1.5, true, true))
		},
	}
	e, opts := deepgramEngine(stream, time.Minute)

	start := time.Now()
	tr, err := e.Transcribe(context.Background(), deepgramRequest())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected the finalize response to end the session, took %s", elapsed)
	}

	if tr.Text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", tr.Text)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("Expected 2 final segments, got %d", len(tr.Segments))
	}
	if tr.Segments[1].Start != time.Second || tr.Segments[1].End != 2500*time.Millisecond {
		t.Errorf("Expected second segment [1s, 2.5s], got [%s, %s]", tr.Segments[1].Start, tr.Segments[1].End)
	}
	if tr.Language != "en" {
		t.Errorf("Expected language 'en', got %q", tr.Language)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.written != 20000 {
		t.Errorf("Expected all 20000 bytes sent, got %d", stream.written)
	}
	if !stream.finalized {
		t.Error("Expected the session to be finalized")
	}
	if !stream.finished {
		t.Error("Expected the session to be finished")
	}
	if opts.Encoding != "linear16" || opts.SampleRate != 16000 || opts.Channels != 1 {
		t.Errorf("Unexpected live options %+v", opts)
	}
}

func TestDeepgram_EmptyFinalizeResponse(t *testing.T) {
	stream := &fakeDeepgramStream{
		onFinalize: func(cb msginterfaces.LiveMessageCallback) {
			cb.Message(result("", 0, 1, true, true))
		},
	}
	e, _ := deepgramEngine(stream, time.Minute)

	tr, err := e.Transcribe(context.Background(), deepgramRequest())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if tr.Text != "" || len(tr.Segments) != 0 {
		t.Errorf("Expected an empty transcription for silence, got %+v", tr)
	}
}

func TestDeepgram_IdleFallbackWhenFinalizeFails(t *testing.T) {
	stream := &fakeDeepgramStream{
		finalizeErr: errors.New("finalize not supported"),
		onFinalize: func(cb msginterfaces.LiveMessageCallback) {
			time.Sleep(10 * time.Millisecond)
			// Without a finalize acknowledgement this flag must not end the wait
			cb.Message(result("late words", 0, 1, true, true))
		},
	}
	e, _ := deepgramEngine(stream, 50*time.Millisecond)

	tr, err := e.Transcribe(context.Background(), deepgramRequest())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if tr.Text != "late words" {
		t.Errorf("Expected results collected until the session went quiet, got %q", tr.Text)
	}
}

func TestDeepgram_ErrorCallback(t *testing.T) {
	tests := []struct {
		name      string
		response  *msginterfaces.ErrorResponse
		transient bool
	}{
		{"unauthorized", &msginterfaces.ErrorResponse{ErrCode: "401", ErrMsg: "Unauthorized"}, false},
		{"bad request", &msginterfaces.ErrorResponse{ErrCode: "INVALID_QUERY", ErrMsg: "invalid model"}, false},
		{"server error", &msginterfaces.ErrorResponse{ErrCode: "NET-0001", ErrMsg: "internal server error"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := &fakeDeepgramStream{
				onFinalize: func(cb msginterfaces.LiveMessageCallback) {
					cb.Error(tt.response)
				},
			}
			e, _ := deepgramEngine(stream, time.Minute)

			_, err := e.Transcribe(context.Background(), deepgramRequest())
			var be *BackendError
			if !errors.As(err, &be) {
				t.Fatalf("Expected *BackendError, got %v", err)
			}
			if be.Transient() != tt.transient {
				t.Errorf("Expected transient=%v, got %s: %v", tt.transient, be.Class, err)
			}
		})
	}
}

func TestDeepgram_ConnectFailureIsTransient(t *testing.T) {
	stream := &fakeDeepgramStream{connectFail: true}
	e, _ := deepgramEngine(stream, time.Minute)

	_, err := e.Transcribe(context.Background(), deepgramRequest())
	if !IsTransient(err) {
		t.Errorf("Expected a transient error, got %v", err)
	}
	if !stream.finished {
		t.Error("Expected the client to be finished after a failed connect")
	}
}

func TestDeepgram_WriteFailureIsTransient(t *testing.T) {
	stream := &fakeDeepgramStream{writeErr: errors.New("broken pipe")}
	e, _ := deepgramEngine(stream, time.Minute)

	if _, err := e.Transcribe(context.Background(), deepgramRequest()); !IsTransient(err) {
		t.Errorf("Expected a transient error, got %v", err)
	}
}

func TestDeepgram_DialFailure(t *testing.T) {
	e := NewDeepgramEngine("", "nova-2", "en")
	e.dial = func(ctx context.Context, apiKey string, options *interfaces.LiveTranscriptionOptions, callback msginterfaces.LiveMessageCallback) (deepgramStream, error) {
		return nil, errors.New("api key is invalid")
	}

	_, err := e.Transcribe(context.Background(), deepgramRequest())
	if err == nil || IsTransient(err) {
		t.Errorf("Expected a permanent error, got %v", err)
	}
}

func TestDeepgram_ContextCancelled(t *testing.T) {
	stream := &fakeDeepgramStream{}
	e, _ := deepgramEngine(stream, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.Transcribe(ctx, deepgramRequest()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestClassifyDeepgramError(t *testing.T) {
	tests := []struct {
		msg       string
		transient bool
	}{
		{"websocket: bad handshake (401)", false},
		{"403 Forbidden", false},
		{"invalid sample rate", false},
		{"connection reset by peer", true},
		{"i/o timeout", true},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := classifyDeepgramError(errors.New(tt.msg))
			if IsTransient(err) != tt.transient {
				t.Errorf("Expected transient=%v for %q, got %v", tt.transient, tt.msg, err)
			}
		})
	}
}
