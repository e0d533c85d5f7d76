package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Channel 定义告警投递接口。实现为长生命周期客户端，构造一次后复用。
type Channel interface {
	Send(ctx context.Context, recipient, subject, body string) error
	Name() string
}

// MultiChannel 将同一条消息广播到全部子通道。单个通道失败不影响其余通道。
type MultiChannel struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewMultiChannel 构造广播通道。
func NewMultiChannel(channels []Channel, logger zerolog.Logger) *MultiChannel {
	return &MultiChannel{
		channels: channels,
		logger:   logger.With().Str("component", "alert_fanout").Logger(),
	}
}

func (m *MultiChannel) Name() string {
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return strings.Join(names, "+")
}

// Send 依次调用各通道，汇总失败信息。
func (m *MultiChannel) Send(ctx context.Context, recipient, subject, body string) error {
	var failed []string
	for _, ch := range m.channels {
		if err := ch.Send(ctx, recipient, subject, body); err != nil {
			m.logger.Error().Err(err).Str("channel", ch.Name()).Msg("通道发送失败")
			failed = append(failed, fmt.Sprintf("%s: %v", ch.Name(), err))
			continue
		}
		m.logger.Debug().Str("channel", ch.Name()).Str("subject", subject).Msg("通道发送成功")
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d channel(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

var _ Channel = (*MultiChannel)(nil)
