package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"logsentinel/internal/config"
	"logsentinel/internal/history"
	"logsentinel/internal/logging"
	"logsentinel/internal/notifications"
	"logsentinel/internal/report"
)

func (c *Controller) recordHistory(ctx context.Context, logger *slog.Logger, run history.Run) {
	if c.history == nil {
		return
	}
	if _, err := c.history.Record(context.WithoutCancel(ctx), run); err != nil {
		logging.WarnWithContext(logger, "failed to record run history", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history.db permissions and disk space"),
			logging.String(logging.FieldImpact, "run missing from history output"),
		)
	}
}

func (c *Controller) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := c.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic reachability"),
			logging.String(logging.FieldImpact, "push notification not delivered"),
		)
	}
}

// mailReport emails a persisted report to the stage recipients. Delivery is
// best effort and never fails the stage.
func (c *Controller) mailReport(ctx context.Context, logger *slog.Logger, src *config.Source, stage config.StageConfig, outcome stageOutcome) {
	cfg := c.config()
	if !cfg.Notifications.Email || len(stage.Recipients) == 0 {
		return
	}
	profile, ok := cfg.SMTPProfileFor(src.SMTPProfile)
	if !ok {
		logging.WarnWithContext(logger, "stage has recipients but no usable smtp profile", "email_skipped",
			logging.String("smtp_profile", src.SMTPProfile),
			logging.String(logging.FieldErrorHint, "set smtp_profile on the source to a configured [smtp.profiles] entry"),
			logging.String(logging.FieldImpact, "report not emailed"),
		)
		return
	}

	rep := outcome.report
	email := notifications.ReportEmail{
		SourceLabel:    src.Label(),
		Hostname:       rep.Hostname,
		Stage:          stage.Name,
		WindowStart:    displayTime(rep.AnalysisStartTime),
		WindowEnd:      displayTime(rep.AnalysisEndTime),
		Generated:      displayTime(rep.ReportGeneratedTime),
		Stats:          rep.SummaryStats,
		Markdown:       rep.AnalysisMarkdown,
		FailedWorkers:  rep.FailedWorkers,
		ReduceFallback: rep.ReduceFallback,
	}
	html, text, err := email.Render()
	if err != nil {
		logging.WarnWithContext(logger, "failed to render report email", "email_render_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "report not emailed"),
		)
		return
	}

	msg := notifications.Message{
		From:        profile.SenderEmail,
		To:          stage.Recipients,
		Subject:     email.Subject(),
		Text:        text,
		HTML:        html,
		Attachments: outcome.mailAttached,
	}
	if err := c.newMailer(profile).Send(context.WithoutCancel(ctx), msg); err != nil {
		logging.WarnWithContext(logger, "failed to send report email", "email_failed",
			logging.Error(err),
			logging.String("smtp_server", profile.Server),
			logging.String(logging.FieldErrorHint, "check smtp profile credentials and server reachability"),
			logging.String(logging.FieldImpact, "report saved but not emailed"),
		)
		return
	}
	logger.Info("report emailed",
		logging.String(logging.FieldEventType, "email_sent"),
		logging.Int("recipients", len(stage.Recipients)),
		logging.Int("attachments", len(msg.Attachments)),
	)
}

// displayTime renders report timestamps as "2006-01-02 15:04 -07:00".
func displayTime(value string) string {
	t, err := report.ParseTime(value)
	if err != nil {
		return value
	}
	return t.Format("2006-01-02 15:04 -07:00")
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
