package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kerrors "wasmkernel/internal/errors"
	"wasmkernel/pkg/logger"
)

// Channel names a notification destination.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// AlertEvent describes one kernel error whose Attributes.Alert flag is
// set; see internal/errors.ShouldAlert.
type AlertEvent struct {
	Code       kerrors.Code
	Message    string
	Severity   kerrors.Severity
	PluginID   string
	OccurredAt time.Time
}

// Notifier sends an AlertEvent to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event AlertEvent) error
}

// AlertDispatcher broadcasts an AlertEvent to every registered Notifier, only
// if the originating error's Attributes.Alert flag is set.
type AlertDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewAlertDispatcher builds a dispatcher over the given notifiers, keyed
// by channel so a later one replaces an earlier one on the same channel.
func NewAlertDispatcher(notifiers ...Notifier) *AlertDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set[n.Channel()] = n
		}
	}
	return &AlertDispatcher{notifiers: set}
}

// Raise notifies every channel if err warrants alerting. Non-kernel
// errors and kernel errors without the Alert hint are silently ignored.
func (d *AlertDispatcher) Raise(ctx context.Context, err error, pluginID string) error {
	if d == nil || err == nil || !kerrors.ShouldAlert(err) {
		return nil
	}
	event := AlertEvent{
		Code:       kerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   kerrors.SeverityOf(err),
		PluginID:   pluginID,
		OccurredAt: time.Now(),
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if notifyErr := notifier.Notify(ctx, event); notifyErr != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), notifyErr))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender is the capability an EmailNotifier needs.
type EmailSender interface {
	Send(ctx context.Context, subject, body string, to []string) error
}

// EmailNotifier sends alerts by email.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

func (n *EmailNotifier) Notify(ctx context.Context, event AlertEvent) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping alert", slog.String("plugin_id", event.PluginID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	body := fmt.Sprintf("time: %s\nplugin: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.PluginID, event.Code, event.Message)
	return n.Sender.Send(ctx, subject, body, n.To)
}

// DingTalkSender is the capability a DingTalkNotifier needs.
type DingTalkSender interface {
	Send(ctx context.Context, content string) error
}

// DingTalkNotifier sends alerts to a DingTalk bot webhook.
type DingTalkNotifier struct {
	Sender DingTalkSender
}

func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

func (n *DingTalkNotifier) Notify(ctx context.Context, event AlertEvent) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("dingtalk notifier not configured, skipping alert", slog.String("plugin_id", event.PluginID))
		return nil
	}
	content := fmt.Sprintf("[%s] %s\nplugin: %s\n%s", event.Severity, event.Code, event.PluginID, event.Message)
	return n.Sender.Send(ctx, content)
}

// SlackSender is the capability a SlackNotifier needs.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier sends alerts to a Slack channel.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

func (n *SlackNotifier) Notify(ctx context.Context, event AlertEvent) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping alert", slog.String("plugin_id", event.PluginID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s (plugin %s)", event.Severity, event.Code, event.Message, event.PluginID)
	return n.Sender.Send(ctx, n.ChannelID, content)
}
