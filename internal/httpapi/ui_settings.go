package httpapi

import "net/http"

type uiSettingsResponse struct {
	DefaultPage     string `json:"default_page"`
	CaptureMode     string `json:"capture_mode"`
	PlaybackMode    string `json:"playback_mode"`
	PlaybackDelayMS int64  `json:"playback_delay_ms"`
	MaxFrameBytes   int    `json:"max_frame_bytes"`
}

func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, uiSettingsResponse{
		DefaultPage:     string(s.cfg.DefaultPage),
		CaptureMode:     s.cfg.CaptureMode,
		PlaybackMode:    s.cfg.PlaybackMode,
		PlaybackDelayMS: s.cfg.PlaybackDelay.Milliseconds(),
		MaxFrameBytes:   s.readLimit(),
	})
}
