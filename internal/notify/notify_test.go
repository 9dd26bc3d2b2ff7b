package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlackNotifier_Send(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(CheckpointWaiting("abc123def456", "review", "Add user login"))
	if err != nil {
		t.Errorf("Send failed: %v", err)
	}

	if received.Text != "Checkpoint: review" {
		t.Errorf("text = %q", received.Text)
	}
	if len(received.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(received.Attachments))
	}
	att := received.Attachments[0]
	if att.Title != "abc123de / review" {
		t.Errorf("attachment title = %q", att.Title)
	}
	if att.Color != "warning" {
		t.Errorf("attachment color = %q", att.Color)
	}
	if att.Footer != "levelup" {
		t.Errorf("attachment footer = %q", att.Footer)
	}
}

func TestSlackNotifier_DisabledWithoutURL(t *testing.T) {
	notifier := NewSlackNotifier("")
	if err := notifier.Send(Notification{Title: "Test"}); err != nil {
		t.Errorf("empty webhook should be a no-op, got %v", err)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{Title: "Test"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestSlackColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		if got := slackColor(tt.typ); got != tt.want {
			t.Errorf("slackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestDesktopUrgency(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifyError, "critical"},
		{NotifyWarning, "normal"},
		{NotifySuccess, "normal"},
		{NotifyInfo, "low"},
	}

	for _, tt := range tests {
		if got := urgency(tt.typ); got != tt.want {
			t.Errorf("urgency(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	if err := multi.Send(Notification{Title: "Test"}); err != nil {
		t.Errorf("Send = %v", err)
	}
	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestMultiNotifier_KeepsDeliveringPastFailures(t *testing.T) {
	var called []string

	failing := &mockNotifier{name: "failing", calls: &called, err: errors.New("webhook down")}
	working := &mockNotifier{name: "working", calls: &called}

	err := NewMultiNotifier(failing, working).Send(Notification{Title: "Test"})
	if err == nil || !strings.Contains(err.Error(), "webhook down") {
		t.Errorf("expected the sink error to surface, got %v", err)
	}
	if len(called) != 2 {
		t.Errorf("later sinks skipped after a failure: %v", called)
	}
}

func TestEventBuilders(t *testing.T) {
	n := RunCompleted("abc123def456", "Add user login", 1.2345)
	if n.Type != NotifySuccess {
		t.Errorf("RunCompleted type = %v", n.Type)
	}
	if !strings.Contains(n.Message, "$1.23") {
		t.Errorf("RunCompleted message = %q", n.Message)
	}

	n = RunFailed("abc123def456", "Add user login", "process died")
	if n.Type != NotifyError {
		t.Errorf("RunFailed type = %v", n.Type)
	}
	if !strings.Contains(n.Message, "process died") {
		t.Errorf("RunFailed message = %q", n.Message)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}
