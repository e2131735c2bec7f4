package health

import (
	"fmt"

	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/slack-go/slack"
)

// SlackSink posts raised/resolved alerts to one Slack channel via
// github.com/slack-go/slack. Notify errors are logged, never returned —
// alert delivery failure must not affect the health pipeline.
type SlackSink struct {
	client  *slack.Client
	channel string
	logger  logging.Logger
}

// NewSlackSink builds a SlackSink posting to channel using botToken.
func NewSlackSink(botToken, channel string, logger logging.Logger) *SlackSink {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SlackSink{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// Notify implements AlertSink.
func (s *SlackSink) Notify(a Alert) {
	text := fmt.Sprintf(":rotating_light: [%s] %s", a.Severity, a.Message)
	if a.Resolved {
		text = fmt.Sprintf(":white_check_mark: resolved: %s", a.Message)
	}

	_, _, err := s.client.PostMessage(s.channel, slack.MsgOptionText(text, false), slack.MsgOptionAttachments(
		slack.Attachment{
			Color:  slackColor(a.Severity, a.Resolved),
			Fields: slackFields(a.Details),
		},
	))
	if err != nil {
		s.logger.Warn("slack alert delivery failed", map[string]interface{}{"error": err.Error(), "alert_id": a.ID})
	}
}

func slackColor(sev AlertSeverity, resolved bool) string {
	if resolved {
		return "good"
	}
	if sev == AlertCritical {
		return "danger"
	}
	return "warning"
}

func slackFields(details map[string]interface{}) []slack.AttachmentField {
	fields := make([]slack.AttachmentField, 0, len(details))
	for k, v := range details {
		fields = append(fields, slack.AttachmentField{
			Title: k,
			Value: fmt.Sprintf("%v", v),
			Short: true,
		})
	}
	return fields
}
