package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/antoniostano/movi/internal/page"
	"github.com/antoniostano/movi/internal/protocol"
	"github.com/antoniostano/movi/internal/recording"
	"github.com/antoniostano/movi/internal/reliability"
	"github.com/antoniostano/movi/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second

	// Control messages are human paced; a burst beyond this is a misbehaving client.
	wsControlRate  = 20
	wsControlBurst = 40
)

func (s *Server) handleWidgetWS(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.IncWidgetEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so no append falls between the two.
	appends, cancelAppends := widget.Chat.Store().Subscribe(256)
	defer cancelAppends()
	events, cancelEvents := widget.Hub.Subscribe(64)
	defer cancelEvents()

	snapshot := widget.Chat.Transcript()
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		seen[m.ID] = struct{}{}
	}

	// The snapshot goes out before the writer starts so no append can overtake it.
	for _, msg := range []any{
		protocol.TranscriptSnapshot{Type: protocol.TypeTranscriptSnapshot, WidgetID: widget.ID, Messages: snapshot},
		protocol.RecordingState{Type: protocol.TypeRecordingState, WidgetID: widget.ID, State: string(widget.Chat.RecordingState())},
	} {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	direct := make(chan any, 32)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// A dead writer must also unblock the reader.
		defer conn.Close()
		defer cancel()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				continue
			case m, ok := <-appends:
				if !ok {
					return
				}
				if _, dup := seen[m.ID]; dup {
					continue
				}
				msg = protocol.TranscriptAppend{Type: protocol.TypeTranscriptAppend, WidgetID: widget.ID, Message: m}
			case ev, ok := <-events:
				if !ok {
					// Widget closed.
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "widget closed"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				msg = ev
			case m := <-direct:
				msg = m
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.IncWSMessage("outbound", "write_error")
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.IncWSMessage("outbound", string(t))
			}
		}
	}()

	sendDirect := func(msg any) {
		select {
		case direct <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			s.metrics.IncWSMessage("outbound", "drop_full")
		}
	}
	sendError := func(code, detail string) {
		sendDirect(protocol.ErrorEvent{
			Type:     protocol.TypeErrorEvent,
			WidgetID: widget.ID,
			Code:     code,
			Source:   "widget",
			Detail:   detail,
		})
	}

	controls := rate.NewLimiter(rate.Limit(wsControlRate), wsControlBurst)

	conn.SetReadLimit(int64(s.readLimit()))
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_ = s.widgets.Touch(widget.ID)

		if msgType == websocket.BinaryMessage {
			s.metrics.IncWSMessage("inbound", "mic_chunk")
			if err := s.pushChunk(widget, data); err != nil {
				sendError("mic_chunk_rejected", err.Error())
			}
			continue
		}

		if !controls.Allow() {
			s.metrics.IncWSMessage("inbound", "rate_limited")
			sendError("rate_limited", "too many control messages")
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			sendError("invalid_client_message", err.Error())
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}

		switch m := parsed.(type) {
		case protocol.ClientAudioChunk:
			if m.WidgetID != widget.ID {
				sendError("widget_mismatch", "message addressed to another widget")
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(m.AudioBase64)
			if err != nil {
				sendError("invalid_client_message", "audio_base64: "+err.Error())
				continue
			}
			if err := s.pushChunk(widget, chunk); err != nil {
				sendError("mic_chunk_rejected", err.Error())
			}
		case protocol.ClientControl:
			if m.WidgetID != widget.ID {
				sendError("widget_mismatch", "message addressed to another widget")
				continue
			}
			s.handleControl(ctx, widget, m, sendError)
		}
	}

	cancel()
	<-writerDone
	s.metrics.IncWidgetEvent("ws_disconnected")
}

func (s *Server) handleControl(ctx context.Context, widget *session.Widget, m protocol.ClientControl, sendError func(code, detail string)) {
	// Submissions outlive the socket that started them.
	submitCtx := context.WithoutCancel(ctx)

	switch m.Action {
	case protocol.ActionSetText:
		widget.Chat.SetText(m.Text)
	case protocol.ActionAttachImage:
		if _, err := widget.Chat.AttachImage(m.ImageURI); err != nil {
			sendError("invalid_attachment", err.Error())
		}
	case protocol.ActionRemoveImage:
		widget.Chat.RemoveImage()
	case protocol.ActionSend:
		pg, err := s.pageFor(m.Page, m.Path)
		if err != nil {
			sendError("invalid_page", err.Error())
			return
		}
		if m.Text != "" {
			widget.Chat.SetText(m.Text)
		}
		// Results reach the client through the transcript feed.
		go widget.Chat.Send(submitCtx, pg)
	case protocol.ActionToggleRecording:
		pg, err := s.pageFor(m.Page, m.Path)
		if err != nil {
			sendError("invalid_page", err.Error())
			return
		}
		go s.toggle(submitCtx, widget, pg, sendError)
	case protocol.ActionPlaybackEnded:
		if widget.Player != nil {
			widget.Player.Ended(m.ClipID)
		}
	case protocol.ActionMicDenied, protocol.ActionMicGranted:
		if widget.Mic == nil {
			sendError("invalid_client_message", "widget does not use a browser microphone in this capture mode")
			return
		}
		if m.Action == protocol.ActionMicGranted {
			widget.Mic.Deny(nil)
			return
		}
		reason := strings.TrimSpace(m.Text)
		if reason == "" {
			reason = "permission refused"
		}
		widget.Mic.Deny(fmt.Errorf("browser microphone: %s", reason))
		s.metrics.IncRecordingEvent("mic_denied")
	}
}

func (s *Server) toggle(ctx context.Context, widget *session.Widget, pg page.Context, sendError func(code, detail string)) {
	_, err := widget.Chat.ToggleRecording(ctx, pg)
	if err == nil {
		return
	}
	kind := reliability.Classify(err)
	if !errors.Is(err, recording.ErrInvalidState) {
		log.Printf("httpapi: widget %s toggle recording: %v", widget.ID, err)
	}
	sendError(kind, err.Error())
}

func (s *Server) pushChunk(widget *session.Widget, chunk []byte) error {
	if widget.Mic == nil {
		return errors.New("widget does not accept microphone frames in this capture mode")
	}
	return widget.Mic.Push(chunk)
}

func (s *Server) readLimit() int {
	if s.cfg.WSReadLimit > 0 {
		return s.cfg.WSReadLimit
	}
	return 1 << 20
}
