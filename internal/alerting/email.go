package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// EmailOptions 描述 SMTP 投递参数。
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier 通过 SMTP 推送告警邮件。
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmailNotifier 构造邮件告警器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify 渲染 HTML 邮件并同步投递。
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	if n.opts.Host == "" || n.opts.From == "" || len(n.opts.To) == 0 {
		return errors.New("smtp 配置不完整")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.opts.From)
	m.SetHeader("To", n.opts.To...)
	m.SetHeader("Subject", renderSubject(note))
	m.SetBody("text/html", renderHTMLBody(note))

	d := gomail.NewDialer(n.opts.Host, n.opts.Port, n.opts.Username, n.opts.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().Int64("alert_id", note.Alert.ID).
		Str("group", note.Alert.ProductGroupKey).
		Strs("to", n.opts.To).
		Msg("告警已发送 (Email)")
	return nil
}

func renderSubject(note Notification) string {
	return fmt.Sprintf("[GapWatch] price gap %s%% on %s (%s)",
		note.Alert.GapPct.Mul(dec100).StringFixed(2), note.Alert.ProductGroupKey, note.Alert.Channel)
}

func renderHTMLBody(note Notification) string {
	alert := note.Alert
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <div style="max-width: 560px; margin: 0 auto; padding: 16px;">
    <h2 style="margin-bottom: 4px;">Price gap alert</h2>
    <p style="margin-top: 0; color: #6b7280;">%s (%s)</p>
    <table cellpadding="6" style="border-collapse: collapse;">
      <tr><td>Own price</td><td style="font-weight: bold;">%s</td></tr>
      <tr><td>Min competitor</td><td style="font-weight: bold; color: #ef4444;">%s</td></tr>
      <tr><td>Gap</td><td>%s%% (threshold %s%%)</td></tr>
      <tr><td>Opened</td><td>%s UTC</td></tr>
    </table>
    <p>
      <a href="%s">Own listing</a> &middot; <a href="%s">Competitor listing</a>
    </p>
    <p style="font-size: 12px; color: #6b7280;">%s</p>
  </div>
</body>
</html>`,
		alert.ProductGroupKey, alert.Channel,
		alert.OwnPrice.StringFixed(2),
		alert.MinCompetitorPrice.StringFixed(2),
		alert.GapPct.Mul(dec100).StringFixed(2), note.ThresholdPct.Mul(dec100).StringFixed(2),
		alert.CreatedAt.UTC().Format(time.RFC3339),
		alert.EndpointOwn, alert.EndpointMinCompetitor,
		alert.Detail)
}

var _ Notifier = (*EmailNotifier)(nil)
