package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier shows notifications through the local desktop environment,
// osascript on macOS and notify-send on Linux. Other platforms are a no-op.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a desktop notifier. When disabled it swallows
// everything.
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send shows the notification, ignoring unsupported platforms.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	cmd := desktopCommand(n)
	if cmd == nil {
		return nil
	}
	return cmd.Run()
}

func desktopCommand(n Notification) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		// %q escapes the quotes AppleScript would otherwise swallow
		script := fmt.Sprintf("display notification %q with title %q", n.Message, n.Title)
		return exec.Command("osascript", "-e", script)
	case "linux":
		return exec.Command("notify-send", "-u", urgency(n.Type), n.Title, n.Message)
	}
	return nil
}

// urgency maps notification types onto notify-send urgency levels.
func urgency(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifyInfo:
		return "low"
	default:
		return "normal"
	}
}
