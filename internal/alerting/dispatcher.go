package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

const quoteCurrency = "USD"

// Dispatcher 把检测到的价格异动渲染为消息并交给通道投递。
type Dispatcher struct {
	channel Channel
	logger  zerolog.Logger
}

// NewDispatcher 构造告警分发器。
func NewDispatcher(channel Channel, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		channel: channel,
		logger:  logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Dispatch 对每个事件恰好调用一次通道。失败时记录日志并返回 ErrNotificationFailure。
func (d *Dispatcher) Dispatch(ctx context.Context, event pricing.AlertEvent) error {
	subject, body := RenderAlert(event)
	if err := d.channel.Send(ctx, event.Recipient, subject, body); err != nil {
		d.logger.Error().Err(err).
			Str("asset", event.Asset).
			Str("channel", d.channel.Name()).
			Str("change_pct", event.PercentChange.StringFixed(2)).
			Msg("告警发送失败")
		return fmt.Errorf("%w: %s alert via %s: %w", pricing.ErrNotificationFailure, event.Asset, d.channel.Name(), err)
	}

	d.logger.Info().
		Str("asset", event.Asset).
		Str("price", event.TriggeringPrice.String()).
		Str("reference", event.ReferencePrice.String()).
		Str("change_pct", event.PercentChange.StringFixed(2)).
		Msg("告警已发送")
	return nil
}

// Acknowledge 发送价格提醒登记的确认邮件。不会建立持续的价格监听。
func (d *Dispatcher) Acknowledge(ctx context.Context, asset string, target decimal.Decimal, recipient string) error {
	subject, body := RenderAcknowledgement(asset, target)
	if err := d.channel.Send(ctx, recipient, subject, body); err != nil {
		d.logger.Error().Err(err).Str("asset", asset).Str("recipient", recipient).Msg("确认邮件发送失败")
		return fmt.Errorf("%w: %s acknowledgement: %w", pricing.ErrNotificationFailure, asset, err)
	}
	return nil
}

// RenderAlert 生成异动告警的标题和正文。
func RenderAlert(event pricing.AlertEvent) (string, string) {
	name := strings.ToUpper(event.Asset)
	subject := fmt.Sprintf("🚀 %s Price Increased by %s%%!", name, formatPct(event.PercentChange))

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("The new price of %s is %s %s\n", name, event.TriggeringPrice.String(), quoteCurrency))
	builder.WriteString(fmt.Sprintf("Reference: %s %s at %s UTC\n", event.ReferencePrice.String(), quoteCurrency, event.ReferenceAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Change: +%s%% (threshold %s%%)\n", formatPct(event.PercentChange), formatPct(event.ThresholdPct)))
	builder.WriteString(fmt.Sprintf("Observed: %s UTC", event.ObservedAt.UTC().Format(time.RFC3339)))
	return subject, builder.String()
}

// RenderAcknowledgement 生成价格提醒确认消息。
func RenderAcknowledgement(asset string, target decimal.Decimal) (string, string) {
	name := strings.ToUpper(asset)
	return fmt.Sprintf("📢 %s Price Alert Set", name),
		fmt.Sprintf("You will be notified when %s reaches $%s", name, target.String())
}

func formatPct(v decimal.Decimal) string {
	return v.Round(2).String()
}
