// Package notification delivers the end-of-run summary through shoutrrr service URLs
// (Slack, Teams, email, generic webhooks, ...).
package notification

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/desertthunder/witx/internal/formatter"
	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// Notifier sends run summaries to every configured URL through a single shoutrrr router.
type Notifier struct {
	sender *router.ServiceRouter
	urls   []string
	title  string
	logger *log.Logger
}

// New builds a Notifier from cfg. It returns nil without error when notifications are disabled.
func New(cfg shared.NotificationConfig, logger *log.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("%w: notification.urls is empty", shared.ErrInvalidConfig)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	n := &Notifier{urls: cfg.URLs, title: cfg.Title, logger: logger}

	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, n.redact(err))
	}
	if cfg.Timeout.Duration > 0 {
		sender.Timeout = cfg.Timeout.Duration
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))
	n.sender = sender

	return n, nil
}

// Title returns the notification title for s, flagging failed and partial runs.
func (n *Notifier) Title(s *models.RunSummary) string {
	title := n.title
	if title == "" {
		title = "witx"
	}
	outcome := "succeeded"
	switch {
	case s.Error != "":
		outcome = "failed"
	case s.Failed > 0:
		outcome = fmt.Sprintf("finished with %d failed records", s.Failed)
	}
	return fmt.Sprintf("%s: %s %s", title, s.Mode, outcome)
}

// SendSummary renders s as plain text and delivers it. Safe on a nil Notifier.
func (n *Notifier) SendSummary(ctx context.Context, s *models.RunSummary) error {
	if n == nil || s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := formatter.SummaryToText(s)
	if err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(n.Title(s))

	var failed []string
	for _, e := range n.sender.Send(string(body), &params) {
		if e != nil {
			failed = append(failed, n.redact(e).Error())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrNotificationFailed, strings.Join(failed, "; "))
	}

	n.logger.Info("sent run summary notification", "run", s.RunID, "services", len(n.urls))
	return nil
}

// redact strips the configured service URLs, which carry tokens, from err.
func (n *Notifier) redact(err error) error {
	msg := err.Error()
	for _, raw := range n.urls {
		masked := "***"
		if u, perr := url.Parse(raw); perr == nil && u.Scheme != "" {
			masked = u.Scheme + "://***"
		}
		msg = strings.ReplaceAll(msg, raw, masked)
	}
	return fmt.Errorf("%s", msg)
}
