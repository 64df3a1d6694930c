package ui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"pexelsync/pkg/config"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pipeline"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name=pexelsync", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
		$text = $template.GetElementsByTagName("text")
		$text.Item(0).AppendChild($template.CreateTextNode('%s')) | Out-Null
		$text.Item(1).AppendChild($template.CreateTextNode('%s')) | Out-Null
		$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("pexelsync").Show($toast)
	`, psQuote(title), psQuote(message))

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// PlatformSender returns the desktop sender for the current OS, or nil
func PlatformSender() NotificationSender {
	switch runtime.GOOS {
	case "linux":
		return &LinuxNotificationSender{}
	case "darwin":
		return &MacOSNotificationSender{}
	case "windows":
		return &WindowsNotificationSender{}
	default:
		return nil
	}
}

// Notifier prints run outcomes and, in desktop mode, raises a desktop
// notification as well
type Notifier struct {
	out    io.Writer
	color  Palette
	cfg    config.NotificationConfig
	sender NotificationSender
}

// NewNotifier creates a Notifier for the configured notification type
func NewNotifier(out io.Writer, cfg config.NotificationConfig) *Notifier {
	n := &Notifier{out: out, color: PaletteFor(out), cfg: cfg}
	if strings.EqualFold(cfg.NotificationType, "desktop") {
		n.sender = PlatformSender()
	}
	return n
}

// WithSender replaces the desktop sender
func (n *Notifier) WithSender(s NotificationSender) *Notifier {
	n.sender = s
	return n
}

func (n *Notifier) enabled() bool {
	return n.cfg.Enabled && !strings.EqualFold(n.cfg.NotificationType, "none")
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	if !n.enabled() || !n.cfg.OnComplete {
		return
	}
	fmt.Fprintf(n.out, "\n%s: %s\n", n.color.Green(title), n.color.Green(message))
	n.desktop(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	if !n.enabled() || !n.cfg.OnError {
		return
	}
	fmt.Fprintf(n.out, "\n%s: %s\n", n.color.Red(title), n.color.Red(message))
	n.desktop(title, message)
}

func (n *Notifier) desktop(title, message string) {
	if n.sender != nil {
		// best effort
		_ = n.sender.Send(title, message)
	}
}

// Observer returns a pipeline observer that notifies when a run ends
func (n *Notifier) Observer() pipeline.Observer {
	return notifyObserver{n: n}
}

type notifyObserver struct {
	pipeline.NopObserver
	n *Notifier
}

func (o notifyObserver) OnFinish(s models.RunSummary) {
	title := "pexelsync: " + s.Query
	switch s.Status {
	case models.StatusCompleted:
		o.n.SendSuccess(title, fmt.Sprintf("%d images uploaded to %s / %s", s.Uploaded, s.ProjectName, s.DatasetName))
	case models.StatusFailed:
		o.n.SendError(title, "run failed: "+s.Error)
	case models.StatusNoImages:
		o.n.SendError(title, "no images found")
	}
}
