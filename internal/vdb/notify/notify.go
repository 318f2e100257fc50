// Package notify sends optional completion mail after a build run. Delivery
// problems are logged and swallowed; notification never affects run outcome.
package notify

import (
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
	"github.com/vulndb-tools/vdbctl/internal/vdb/runtime"
)

// Notifier sends run-outcome mail through SMTP.
type Notifier struct {
	cfg config.NotifyConfig
}

// NewNotifier creates a notifier from the notify configuration
func NewNotifier(cfg config.NotifyConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

// RunFinished reports a terminal run phase to the configured recipients.
func (n *Notifier) RunFinished(phase runtime.Phase, elapsed time.Duration, runErr error) {
	if !n.cfg.Enabled || len(n.cfg.To) == 0 {
		return
	}

	subject := fmt.Sprintf("vulnerability DB build %s after %s", phase, elapsed.Round(time.Second))
	body := fmt.Sprintf("Build finished with status %q in %s.", phase, elapsed.Round(time.Second))
	if runErr != nil {
		body += fmt.Sprintf("\n\nError: %v", runErr)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.Username, n.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		log.Error("Failed to send notification mail: %v", err)
		return
	}
	log.Debug("notification mail sent to %v", n.cfg.To)
}
