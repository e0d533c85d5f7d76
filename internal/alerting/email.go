package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"price-tracker/internal/config"
)

// EmailChannel 通过 SMTP 发送纯文本邮件。底层 client 在构造时创建并在各次发送间复用。
type EmailChannel struct {
	client   *mail.Client
	from     string
	fromName string
	logger   zerolog.Logger
}

// NewEmailChannel 根据配置构造 SMTP 客户端。587 端口使用 STARTTLS。
func NewEmailChannel(cfg config.EmailConfig, logger zerolog.Logger) (*EmailChannel, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &EmailChannel{
		client:   client,
		from:     cfg.SenderAddress(),
		fromName: cfg.FromName,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

func (e *EmailChannel) Name() string { return "email" }

// Send 投递一封邮件。
func (e *EmailChannel) Send(ctx context.Context, recipient, subject, body string) error {
	msg, err := buildMessage(e.from, e.fromName, recipient, subject, body)
	if err != nil {
		return err
	}
	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", recipient, err)
	}

	e.logger.Info().Str("recipient", recipient).Str("subject", subject).Msg("告警已发送 (Email)")
	return nil
}

func buildMessage(from, fromName, recipient, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if fromName != "" {
		if err := msg.FromFormat(fromName, from); err != nil {
			return nil, fmt.Errorf("set sender %q: %w", from, err)
		}
	} else if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", from, err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", recipient, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

var _ Channel = (*EmailChannel)(nil)
