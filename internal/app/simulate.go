package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/alerting"
	"price-gap-monitor/internal/engine"
	"price-gap-monitor/internal/storage"
)

// SimulateAlert 用给定的自营/竞品价格走一遍评估与通知流程，不写数据库。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	own, err := decimal.NewFromString(opts.OwnPrice)
	if err != nil {
		return fmt.Errorf("解析 --own 失败: %w", err)
	}
	competitor, err := decimal.NewFromString(opts.CompetitorPrice)
	if err != nil {
		return fmt.Errorf("解析 --competitor 失败: %w", err)
	}

	group := opts.ProductGroupKey
	if group == "" {
		group = "SIMULATED"
	}
	channel := opts.Channel
	if channel == "" {
		channel = "simulated"
	}

	now := time.Now().UTC()
	ownObs := storage.PriceObservation{
		ProductGroupKey: group,
		Channel:         channel,
		Role:            storage.RoleOwn,
		EndpointRef:     "simulated://own",
		Price:           own,
		Currency:        a.Config.Fetch.DefaultCurrency,
		CapturedAt:      now,
	}
	competitorObs := storage.PriceObservation{
		ProductGroupKey: group,
		Channel:         channel,
		Role:            storage.RoleCompetitor,
		EndpointRef:     "simulated://competitor",
		Price:           competitor,
		Currency:        a.Config.Fetch.DefaultCurrency,
		CapturedAt:      now,
	}

	result, ok := engine.EvaluateGap(&ownObs, []storage.PriceObservation{competitorObs})
	if !ok {
		return errors.New("无法计算价差：竞品价格为零")
	}

	threshold := decimal.NewFromFloat(a.Config.Engine.DefaultGapThreshold)
	if !result.GapPct.GreaterThan(threshold) {
		a.Logger.Info().
			Str("gap_pct", result.GapPct.String()).
			Str("threshold", threshold.String()).
			Msg("价差未超过阈值，不发送告警")
		return nil
	}

	alert := storage.Alert{
		ProductGroupKey:       group,
		Channel:               channel,
		Kind:                  storage.KindGapOverThreshold,
		Detail:                fmt.Sprintf("[simulated] own %s vs min competitor %s", own.StringFixed(2), competitor.StringFixed(2)),
		OwnPrice:              result.OwnPrice,
		MinCompetitorPrice:    result.MinCompetitorPrice,
		GapPct:                result.GapPct,
		EndpointOwn:           ownObs.EndpointRef,
		EndpointMinCompetitor: competitorObs.EndpointRef,
		CreatedAt:             now,
	}

	return notifier.Notify(ctx, alerting.Notification{Alert: alert, ThresholdPct: threshold})
}
