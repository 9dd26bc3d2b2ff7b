package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackNotifier posts notifications to a Slack incoming webhook. An empty
// webhook URL turns it into a no-op so callers can wire it unconditionally.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a notifier for the given webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// slackMessage is the incoming-webhook payload shape.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

// Send posts the notification as one attachment, titled with the short run
// id and step when present.
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	att := slackAttachment{
		Color:  slackColor(n.Type),
		Text:   n.Message,
		Footer: "levelup",
	}
	if n.RunID != "" {
		att.Title = shortID(n.RunID)
		if n.Step != "" {
			att.Title += " / " + n.Step
		}
	}
	payload, err := json.Marshal(slackMessage{Text: n.Title, Attachments: []slackAttachment{att}})
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook: %s", resp.Status)
	}
	return nil
}

func slackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}
