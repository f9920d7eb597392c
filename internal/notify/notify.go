// Package notify sends a desktop notification when a run ends. Only macOS
// (osascript) is supported; elsewhere Send is a no-op.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Runner executes the notification command.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Notifier sends notifications.
type Notifier struct {
	goos string
	run  Runner
}

// New returns a notifier for the current platform.
func New() *Notifier {
	return &Notifier{goos: runtime.GOOS, run: execRunner}
}

// Supported reports whether Send does anything on this platform.
func (n *Notifier) Supported() bool { return n.goos == "darwin" }

// Send shows a notification with title, subtitle and message.
func (n *Notifier) Send(title, subtitle, message string) error {
	if !n.Supported() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := n.run(ctx, "osascript", "-e", Script(title, subtitle, message))
	if err != nil {
		return fmt.Errorf("osascript: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Script builds the AppleScript that displays the notification.
func Script(title, subtitle, message string) string {
	return fmt.Sprintf(`display notification "%s" with title "%s" subtitle "%s"`,
		escapeAppleScript(message),
		escapeAppleScript(title),
		escapeAppleScript(subtitle))
}

// escapeAppleScript escapes special characters in AppleScript strings
func escapeAppleScript(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch ch {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
