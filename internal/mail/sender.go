// Package mail 为 Agent 工具提供邮件能力：SMTP 发送报告、IMAP 拉取报名附件。
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig 为发送报告所需的 SMTP 参数。
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// From 为空时使用 User。
	From    string
	SSL     bool
	Timeout time.Duration
}

// SMTPSender 通过 SMTP 发送纯文本报告。每次发送建立一次连接，可并发使用。
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPSender{cfg: cfg}
}

// SendReport 把 content 作为纯文本正文发送到 to。
func (s *SMTPSender) SendReport(ctx context.Context, to, subject, content string) error {
	if s.cfg.Host == "" || s.cfg.User == "" || s.cfg.Password == "" {
		return errors.New("smtp is not configured (smtp.host/smtp.user/smtp.password)")
	}

	msg, err := buildMessage(s.cfg.From, to, subject, content)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.User),
		gomail.WithPassword(s.cfg.Password),
		gomail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.SSL {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func buildMessage(from, to, subject, content string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, content)
	return msg, nil
}
