package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/movi/internal/config"
	"github.com/antoniostano/movi/internal/conversation"
	"github.com/antoniostano/movi/internal/observability"
	"github.com/antoniostano/movi/internal/page"
	"github.com/antoniostano/movi/internal/protocol"
	"github.com/antoniostano/movi/internal/recording"
	"github.com/antoniostano/movi/internal/session"
)

type Server struct {
	cfg      config.Config
	widgets  *session.Manager
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, widgets *session.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		widgets: widgets,
		metrics: metrics,
		static:  newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a widget's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/ui/settings", s.handleUISettings)

	r.Post("/v1/widgets", s.handleCreateWidget)
	r.Route("/v1/widgets/{id}", func(r chi.Router) {
		r.Post("/close", s.handleCloseWidget)
		r.Get("/transcript", s.handleTranscript)
		r.Post("/send", s.handleSend)
		r.Post("/recording/toggle", s.handleToggleRecording)
		r.Put("/attachment", s.handleAttach)
		r.Delete("/attachment", s.handleRemoveAttachment)
		r.Get("/ws", s.handleWidgetWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_widgets": s.widgets.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"agent_mode": s.cfg.AgentMode,
	})
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, _ *http.Request) {
	widget, err := s.widgets.Create()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "widget_unavailable", err.Error())
		return
	}
	info := widget.Info()
	info.InactivityTTLMS = s.widgets.InactivityTimeout().Milliseconds()
	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleCloseWidget(w http.ResponseWriter, r *http.Request) {
	info, err := s.widgets.Close(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "widget_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

type transcriptResponse struct {
	WidgetID string                 `json:"widget_id"`
	Messages []conversation.Message `json:"messages"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, transcriptResponse{WidgetID: widget.ID, Messages: widget.Chat.Transcript()})
}

type sendRequest struct {
	Text     string `json:"text"`
	ImageURI string `json:"image_uri"`
	Page     string `json:"page"`
	Path     string `json:"path"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	pg, err := s.pageFor(req.Page, req.Path)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}
	if req.Text != "" {
		widget.Chat.SetText(req.Text)
	}
	if req.ImageURI != "" {
		if _, err := widget.Chat.AttachImage(req.ImageURI); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_attachment", err.Error())
			return
		}
	}

	// A client hanging up must not cut the agent call short; the transcript is shared.
	out := widget.Chat.Send(context.WithoutCancel(r.Context()), pg)
	respondJSON(w, http.StatusOK, out)
}

type toggleRequest struct {
	Page string `json:"page"`
	Path string `json:"path"`
}

func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	pg, err := s.pageFor(req.Page, req.Path)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}

	res, err := widget.Chat.ToggleRecording(context.WithoutCancel(r.Context()), pg)
	switch {
	case errors.Is(err, recording.ErrDeviceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
	case errors.Is(err, recording.ErrInvalidState):
		respondError(w, http.StatusConflict, "invalid_state", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "recording_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

type attachRequest struct {
	ImageURI string `json:"image_uri"`
}

type attachResponse struct {
	MediaType string `json:"media_type"`
	Bytes     int    `json:"bytes"`
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	att, err := widget.Chat.AttachImage(req.ImageURI)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_attachment", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, attachResponse{MediaType: att.MediaType, Bytes: len(att.Data)})
}

func (s *Server) handleRemoveAttachment(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.lookup(w, r)
	if !ok {
		return
	}
	widget.Chat.RemoveImage()
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} route parameter and marks the widget active.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Widget, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_widget_id", "missing widget id")
		return nil, false
	}
	widget, err := s.widgets.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "widget_not_found", err.Error())
		return nil, false
	}
	_ = s.widgets.Touch(id)
	return widget, true
}

// pageFor picks the page context: an explicit value wins, then the frontend path,
// then the configured default.
func (s *Server) pageFor(explicit, path string) (page.Context, error) {
	if strings.TrimSpace(explicit) != "" {
		return page.Parse(explicit)
	}
	if strings.TrimSpace(path) != "" {
		return page.Resolve(path), nil
	}
	if s.cfg.DefaultPage != "" {
		return s.cfg.DefaultPage, nil
	}
	return page.ManageRoute, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 16<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.TranscriptSnapshot:
		return m.Type, true
	case protocol.TranscriptAppend:
		return m.Type, true
	case protocol.RecordingState:
		return m.Type, true
	case protocol.PlaybackStart:
		return m.Type, true
	case protocol.PlaybackStop:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
