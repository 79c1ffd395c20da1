package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/probewatch/probewatch/server/internal/config"
	"github.com/probewatch/probewatch/server/internal/store"
)

// Notice is the body sent to generic HTTP targets.
type Notice struct {
	SessionID   string        `json:"session_id"`
	Message     string        `json:"message"`
	Level       string        `json:"level"` // ok | degraded | failed
	Summary     store.Summary `json:"summary"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Notifier delivers session-complete notices to webhooks.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
}

// New creates a Notifier for the given targets.
func New(webhooks []config.WebhookConfig) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SessionClosed delivers a notice for v to every target. Errors are logged
// and do not affect the caller.
func (n *Notifier) SessionClosed(v store.View) {
	notice := noticeFor(v)
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, notice)
		case "teams":
			err = n.sendTeams(url, notice)
		case "http":
			err = n.sendHTTP(url, notice)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed", "type", wh.Type, "session", v.ID, "err", err)
		} else {
			slog.Debug("notify: webhook delivered", "type", wh.Type, "session", v.ID)
		}
	}
}

func noticeFor(v store.View) Notice {
	s := v.Summary
	level := "ok"
	switch {
	case s.Completed > 0 && s.Success == 0:
		level = "failed"
	case s.Failed > 0 || s.InProgress > 0:
		level = "degraded"
	}
	return Notice{
		SessionID: v.ID,
		Message: fmt.Sprintf("Probe session %s finished: %d/%d passed, %d failed (%d timeout, %d dead)",
			short(v.ID), s.Success, s.Total, s.Failed, s.Timeout, s.Dead),
		Level:       level,
		Summary:     s,
		StartedAt:   v.StartedAt,
		CompletedAt: v.CompletedAt,
	}
}

func (n *Notifier) sendSlack(url string, p Notice) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", levelLabel(p.Level), p.Message),
	})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, p Notice) error {
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": levelColor(p.Level),
		"summary":    "probe session " + short(p.SessionID),
		"title":      "Probewatch: session complete",
		"text":       p.Message,
	})
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, p Notice) error {
	body, _ := json.Marshal(map[string]interface{}{"session": p})
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func levelLabel(l string) string {
	switch l {
	case "failed":
		return "[FAILED]"
	case "degraded":
		return "[DEGRADED]"
	default:
		return "[OK]"
	}
}

func levelColor(l string) string {
	switch l {
	case "failed":
		return "FF4F6A"
	case "degraded":
		return "FFAB40"
	default:
		return "3DDC84"
	}
}
