package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	AgentMode    string            `json:"agent_mode"`
	CaptureMode  string            `json:"capture_mode"`
	PlaybackMode string            `json:"playback_mode"`
	Checks       []onboardingCheck `json:"checks"`
}

var agentProbeTimeout = 250 * time.Millisecond

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]onboardingCheck, 0, 4)
	checks = append(checks, s.agentCheck())
	checks = append(checks, binaryCheck("ffmpeg", "Audio decoder", s.cfg.FFmpegPath,
		"warn", "Install ffmpeg or set FFMPEG_PATH; only WAV recordings can be decoded without it."))

	if s.cfg.CaptureMode == "command" {
		bin := firstField(s.cfg.CaptureCommand)
		checks = append(checks, binaryCheck("capture_command", "Host microphone", bin,
			"error", "Fix CAPTURE_COMMAND or switch to CAPTURE_MODE=push."))
	}
	if s.cfg.PlaybackMode == "command" {
		bin := firstField(s.cfg.PlaybackCommand)
		checks = append(checks, binaryCheck("playback_command", "Host speaker", bin,
			"error", "Install ffplay, fix PLAYBACK_COMMAND or switch to PLAYBACK_MODE=notify."))
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		AgentMode:    s.cfg.AgentMode,
		CaptureMode:  s.cfg.CaptureMode,
		PlaybackMode: s.cfg.PlaybackMode,
		Checks:       checks,
	})
}

func (s *Server) agentCheck() onboardingCheck {
	if s.cfg.AgentMode == "mock" {
		return onboardingCheck{
			ID:     "agent",
			Status: "warn",
			Label:  "Agent is mock",
			Detail: "Replies are generated locally.",
			Fix:    "Set AGENT_MODE=http and AGENT_BASE_URL to reach the real agent.",
		}
	}
	u, err := url.Parse(s.cfg.AgentBaseURL)
	if err != nil || u.Host == "" {
		return onboardingCheck{ID: "agent", Status: "error", Label: "Agent endpoint", Detail: "invalid AGENT_BASE_URL"}
	}
	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, agentProbeTimeout)
	if err != nil {
		return onboardingCheck{
			ID:     "agent",
			Status: "warn",
			Label:  "Agent endpoint",
			Detail: fmt.Sprintf("%s unreachable; replies will use the local fallback", addr),
			Fix:    "Start the agent service or correct AGENT_BASE_URL.",
		}
	}
	_ = c.Close()
	return onboardingCheck{ID: "agent", Status: "ok", Label: "Agent endpoint", Detail: addr}
}

func binaryCheck(id, label, bin, missingStatus, fix string) onboardingCheck {
	if strings.TrimSpace(bin) == "" {
		return onboardingCheck{ID: id, Status: missingStatus, Label: label, Detail: "not configured", Fix: fix}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return onboardingCheck{ID: id, Status: missingStatus, Label: label, Detail: bin + " not found", Fix: fix}
	}
	return onboardingCheck{ID: id, Status: "ok", Label: label, Detail: path}
}

func firstField(commandLine string) string {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
