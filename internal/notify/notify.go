// Package notify delivers OS desktop notifications. Delivery is
// fire-and-forget: failures are logged and swallowed, never surfaced to the
// alert pipeline.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/banshee-data/posture.report/internal/monitoring"
)

// OSNotifier shells out to the platform notification mechanism.
type OSNotifier struct{}

// NewOSNotifier returns a notifier for the current platform.
func NewOSNotifier() *OSNotifier {
	return &OSNotifier{}
}

// Notify sends one desktop notification. No acknowledgment is expected.
func (n *OSNotifier) Notify(title, message string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", message, title)
		cmd = exec.Command("osascript", "-e", script)
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			monitoring.Logf("notify: notify-send not found, dropping %q", title)
			return
		}
		cmd = exec.Command("notify-send", title, message)
	case "windows":
		ps := fmt.Sprintf(`New-BurntToastNotification -Text %q, %q`, title, message)
		cmd = exec.Command("powershell", "-NoProfile", "-Command", ps)
	default:
		monitoring.Logf("notify: unsupported platform %s, dropping %q", runtime.GOOS, title)
		return
	}
	if err := cmd.Start(); err != nil {
		monitoring.Logf("notify: failed to dispatch %q: %v", title, err)
		return
	}
	// Reap the child without blocking the caller.
	go func() {
		if err := cmd.Wait(); err != nil {
			monitoring.Logf("notify: dispatcher exited with error: %v", err)
		}
	}()
}

// LogNotifier records notifications through the package logger only. Used
// in headless and test environments.
type LogNotifier struct{}

// Notify logs the notification.
func (LogNotifier) Notify(title, message string) {
	monitoring.Logf("notification: %s: %s", title, message)
}
