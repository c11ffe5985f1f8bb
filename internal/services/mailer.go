package services

// 邮件发送：SMTP 中继（go-mail）+ 指数退避重试；未配置 SMTP 时仅记录日志。

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"dsolar/internal/config"
)

// Message 一封待发送邮件。
type Message struct {
	To       []string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
	Template string
}

// Mailer 邮件发送接口。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer 按配置选择实现：Host 为空时返回 LogMailer。
func NewMailer(cfg config.MailConfig) Mailer {
	if cfg.Host == "" {
		return LogMailer{}
	}
	return &SMTPMailer{cfg: cfg}
}

// LogMailer 开发环境使用，只输出日志。
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.WithFields(log.Fields{
		"to":       msg.To,
		"subject":  msg.Subject,
		"template": msg.Template,
	}).Info("mail not sent (smtp disabled)")
	log.Debug(msg.Text)
	return nil
}

// SMTPMailer 通过 SMTP 中继发送。
type SMTPMailer struct {
	cfg config.MailConfig
}

func (m *SMTPMailer) client() (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(m.cfg.Port), mail.WithTimeout(15 * time.Second)}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	switch m.cfg.TLS {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	return mail.NewClient(m.cfg.Host, opts...)
}

func (m *SMTPMailer) build(msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := out.To(msg.To...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if msg.ReplyTo != "" {
		if err := out.ReplyTo(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("reply-to: %w", err)
		}
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		out.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return out, nil
}

// Send 构造邮件并发送；地址错误不重试，网络错误按指数退避重试。
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	out, err := m.build(msg)
	if err != nil {
		return err
	}
	retries := m.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	attempt := 0
	op := func() error {
		attempt++
		c, err := m.client()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := c.DialAndSendWithContext(ctx, out); err != nil {
			log.WithError(err).WithFields(log.Fields{"attempt": attempt, "template": msg.Template}).Warn("smtp send failed")
			return err
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}
