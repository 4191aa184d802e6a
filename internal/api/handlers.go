// Package api exposes the recording commands over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe/internal/apperrors"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/recorder"
	"github.com/lexiqai/scribe/internal/session"
	"github.com/lexiqai/scribe/internal/transcript"
)

// Commands are the recorder operations the HTTP surface drives
type Commands interface {
	StartRecording(room string) error
	StopRecording(ctx context.Context, room string) (string, error)
	ForceClose(room string) error
}

// Handler serves the room command routes
type Handler struct {
	commands      Commands
	registry      *session.Registry
	transcriptDir string
	logger        zerolog.Logger
}

// NewHandler creates the command handler
func NewHandler(commands Commands, registry *session.Registry, transcriptDir string) *Handler {
	return &Handler{
		commands:      commands,
		registry:      registry,
		transcriptDir: transcriptDir,
		logger:        observability.WithComponent("api"),
	}
}

// Register adds the command routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms/{room}/recording", h.startRecording)
	mux.HandleFunc("DELETE /rooms/{room}/recording", h.stopRecording)
	mux.HandleFunc("POST /rooms/{room}/close", h.closeRoom)
	mux.HandleFunc("GET /rooms/{room}", h.getRoom)
	mux.HandleFunc("GET /rooms", h.listRooms)
	mux.HandleFunc("GET /transcripts", h.listTranscripts)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StopResponse is returned when a recording is stopped
type StopResponse struct {
	Room           string `json:"room"`
	TranscriptPath string `json:"transcript_path"`
}

// StatusResponse acknowledges a state change
type StatusResponse struct {
	Room   string `json:"room"`
	Status string `json:"status"`
}

func (h *Handler) startRecording(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := h.commands.StartRecording(room); err != nil {
		h.writeError(w, room, "start", err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Room: room, Status: "recording"})
}

func (h *Handler) stopRecording(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	path, err := h.commands.StopRecording(r.Context(), room)
	if err != nil {
		h.writeError(w, room, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{Room: room, TranscriptPath: path})
}

func (h *Handler) closeRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := h.commands.ForceClose(room); err != nil {
		h.writeError(w, room, "close", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Room: room, Status: "closed"})
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	s, ok := h.registry.Get(room)
	if !ok {
		h.writeError(w, room, "get", apperrors.New(apperrors.KindNoSession, "get", room, nil))
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Snapshot()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) listTranscripts(w http.ResponseWriter, r *http.Request) {
	files, err := transcript.List(h.transcriptDir)
	if err != nil {
		h.writeError(w, "", "list", err)
		return
	}
	if files == nil {
		files = []transcript.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) writeError(w http.ResponseWriter, room, op string, err error) {
	kind := apperrors.KindOf(err)
	status := kind.HTTPStatus()
	code := kind.String()
	if errors.Is(err, recorder.ErrShuttingDown) {
		status = http.StatusServiceUnavailable
		code = "shutting_down"
	}

	observability.RecordError(code, "api")
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Str("room_id", room).Str("op", op).Int("status", status).Msg("Command failed")

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
