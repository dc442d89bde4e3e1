package notify

import (
	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
)

// LogSender writes notifications to the log. It stands in for real channel
// transports (email, SMS, in-app), which plug in behind the same Sender
// interface.
type LogSender struct {
	logger service.Logger
}

func NewLogSender(logger service.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(event models.TransitionEvent) error {
	s.logger.Infof("Notify %s: %s on content %s -> %s",
		event.RecipientID, event.Action, event.ContentID, event.Status)
	return nil
}

// LogDigestSender writes digest summaries to the log.
type LogDigestSender struct {
	logger service.Logger
}

func NewLogDigestSender(logger service.Logger) *LogDigestSender {
	return &LogDigestSender{logger: logger}
}

func (s *LogDigestSender) SendDigest(d Digest) error {
	s.logger.Infof("Digest for %s: %d pending events", d.RecipientID, len(d.Events))
	return nil
}
