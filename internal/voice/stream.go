// Package voice accepts room audio over a websocket and feeds it to the recorder.
package voice

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe/internal/apperrors"
	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/session"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The voice bridge runs next to the service; origin is not meaningful here
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Message is an inbound event from the voice bridge
type Message struct {
	Event string        `json:"event"`
	Join  *JoinPayload  `json:"join,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// JoinPayload opens a room and describes the audio that will follow
type JoinPayload struct {
	Room       string `json:"room"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Encoding   string `json:"encoding,omitempty"` // pcm16 (default) or mulaw
}

// MediaPayload is one frame of audio from a speaker
type MediaPayload struct {
	Speaker string `json:"speaker"`
	Payload string `json:"payload"` // Base64 encoded audio
}

// Event is an outbound notification to the voice bridge
type Event struct {
	Event   string `json:"event"`
	Room    string `json:"room,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Recorder is the subset of the recorder the ingest drives
type Recorder interface {
	OnJoin(room string, sink session.Sink) error
	OnAudioFrame(room, speaker string, frame []byte) error
	OnDisconnect(room string) error
}

// Handler upgrades voice bridge connections
type Handler struct {
	recorder Recorder
	target   audio.Format
	logger   zerolog.Logger
}

// NewHandler creates the ingest handler. Frames are normalized to target.
func NewHandler(recorder Recorder, target audio.Format) *Handler {
	return &Handler{
		recorder: recorder,
		target:   target,
		logger:   observability.WithComponent("voice"),
	}
}

// ServeHTTP handles one voice bridge connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	stream := &stream{
		handler: h,
		conn:    &wsConn{conn: conn},
		logger:  observability.WithCorrelationID(observability.NewCorrelationID()),
	}
	stream.run()
}

// wsConn serializes writes; gorilla connections allow one concurrent writer
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) close(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
	return c.conn.Close()
}

// sink is the session's handle on this connection
type sink struct {
	conn     *wsConn
	room     string
	once     sync.Once
	released chan struct{}
	err      error
}

// Release tells the bridge the room is released and closes the stream
func (s *sink) Release() error {
	s.once.Do(func() {
		close(s.released)
		s.conn.send(Event{Event: "released", Room: s.room})
		s.err = s.conn.close(websocket.CloseNormalClosure, "released")
	})
	return s.err
}

func (s *sink) isReleased() bool {
	select {
	case <-s.released:
		return true
	default:
		return false
	}
}

type stream struct {
	handler  *Handler
	conn     *wsConn
	room     string
	from     audio.Format
	encoding string
	sink     *sink
	logger   zerolog.Logger
}

func (s *stream) run() {
	defer func() {
		// A dropped connection is a disconnect unless the session already let go of us
		if s.sink != nil && !s.sink.isReleased() {
			s.logger.Info().Str("room_id", s.room).Msg("Voice stream ended, closing room")
			s.handler.recorder.OnDisconnect(s.room)
		}
		s.conn.conn.Close()
	}()

	for {
		_, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse voice message")
			s.conn.send(Event{Event: "error", Code: "bad_message", Message: err.Error()})
			continue
		}

		switch msg.Event {
		case "join":
			s.handleJoin(msg.Join)

		case "media":
			if msg.Media != nil {
				s.handleMedia(msg.Media)
			}

		case "leave":
			if s.sink != nil {
				s.logger.Info().Str("room_id", s.room).Msg("Voice left room")
				s.handler.recorder.OnDisconnect(s.room)
				s.sink = nil
			}
			return

		default:
			s.logger.Warn().Str("event", msg.Event).Msg("Unknown voice event")
		}
	}
}

func (s *stream) handleJoin(join *JoinPayload) {
	if s.sink != nil {
		s.sendError(apperrors.New(apperrors.KindSessionConflict, "join", s.room, errors.New("stream already joined a room")))
		return
	}
	if join == nil || join.Room == "" {
		s.conn.send(Event{Event: "error", Code: "bad_message", Message: "join requires a room"})
		return
	}

	from := audio.Format{SampleRate: join.SampleRate, Channels: join.Channels, BitDepth: 16}
	if from.SampleRate == 0 {
		from.SampleRate = s.handler.target.SampleRate
	}
	if from.Channels == 0 {
		from.Channels = 1
	}
	encoding := join.Encoding
	if encoding == "" {
		encoding = audio.EncodingPCM16
	}
	if encoding != audio.EncodingPCM16 && encoding != audio.EncodingMulaw {
		s.conn.send(Event{Event: "error", Room: join.Room, Code: "bad_message", Message: "unsupported encoding " + encoding})
		return
	}

	sk := &sink{conn: s.conn, room: join.Room, released: make(chan struct{})}
	if err := s.handler.recorder.OnJoin(join.Room, sk); err != nil {
		s.sendError(err)
		return
	}

	s.room = join.Room
	s.from = from
	s.encoding = encoding
	s.sink = sk
	s.logger = s.logger.With().Str("room_id", join.Room).Logger()

	s.logger.Info().
		Int("sample_rate", from.SampleRate).
		Int("channels", from.Channels).
		Str("encoding", encoding).
		Msg("Voice joined room")
	s.conn.send(Event{Event: "joined", Room: join.Room})
}

func (s *stream) handleMedia(media *MediaPayload) {
	if s.sink == nil {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode base64 audio")
		return
	}
	observability.RecordAudioBytes("voice", len(raw))

	frame, err := audio.Normalize(raw, s.encoding, s.from, s.handler.target)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed audio frame")
		return
	}

	if err := s.handler.recorder.OnAudioFrame(s.room, media.Speaker, frame); err != nil {
		// Audio flows before and after a recording window; only real failures matter
		if apperrors.KindOf(err) != apperrors.KindNotRecording {
			s.logger.Warn().Err(err).Msg("Audio frame rejected")
		}
	}
}

func (s *stream) sendError(err error) {
	s.conn.send(Event{
		Event:   "error",
		Room:    s.room,
		Code:    apperrors.KindOf(err).String(),
		Message: err.Error(),
	})
}
