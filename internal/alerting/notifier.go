package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// Notification 封装一次告警投递的上下文。
type Notification struct {
	Alert        storage.Alert
	ThresholdPct decimal.Decimal
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Multi 将同一条告警展开到多个通道。单个通道失败不影响其余通道。
type Multi struct {
	notifiers []Notifier
}

// NewMulti 组合多个告警器。
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Notify 依次投递，汇总所有失败。
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("alert_id", note.Alert.ID).
		Str("group", note.Alert.ProductGroupKey).
		Str("channel", note.Alert.Channel).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	alert := note.Alert
	builder := strings.Builder{}
	builder.WriteString("[Price Gap Alert]\n")
	builder.WriteString(fmt.Sprintf("Product: %s (%s)\n", alert.ProductGroupKey, alert.Channel))
	builder.WriteString(fmt.Sprintf("Own price: %s\n", alert.OwnPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Min competitor: %s\n", alert.MinCompetitorPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Gap: %s%% (threshold %s%%)\n",
		alert.GapPct.Mul(dec100).StringFixed(2), note.ThresholdPct.Mul(dec100).StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Opened: %s UTC\n", alert.CreatedAt.UTC().Format(time.RFC3339)))
	if alert.EndpointOwn != "" {
		builder.WriteString(fmt.Sprintf("Own listing: %s\n", alert.EndpointOwn))
	}
	if alert.EndpointMinCompetitor != "" {
		builder.WriteString(fmt.Sprintf("Competitor listing: %s\n", alert.EndpointMinCompetitor))
	}
	if alert.Detail != "" {
		builder.WriteString(alert.Detail)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Multi)(nil)
)
