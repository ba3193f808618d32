package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eraiza0816/discord-archive/logging"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

const sendTimeout = 30 * time.Second

// ErrNotConfigured is returned when SMTP credentials or recipients are missing.
var ErrNotConfigured = errors.New("email notifications not configured")

type SMTPConfig struct {
	Server     string
	Port       int
	Sender     string
	Password   string
	Recipients []string
	// UseTLS selects STARTTLS. When false the connection uses implicit TLS.
	UseTLS bool
}

func (c SMTPConfig) complete() bool {
	return c.Server != "" && c.Sender != "" && c.Password != "" && len(c.Recipients) > 0
}

// Sender delivers a rendered mail.
type Sender interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPSender sends through go-mail.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Sender),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(sendTimeout),
	}
	if s.cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithSSL())
	}
	return opts
}

func (s *SMTPSender) Send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Server, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// BuildMessage converts m into a MIME message with a plain text body and an
// optional HTML alternative.
func BuildMessage(from string, to []string, m Mail) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	return msg, nil
}

type Stats struct {
	Enabled        bool       `json:"enabled"`
	EmailsSent     int        `json:"emails_sent"`
	EmailsFailed   int        `json:"emails_failed"`
	LastEmailTime  *time.Time `json:"last_email_time"`
	SMTPServer     string     `json:"smtp_server"`
	SMTPPort       int        `json:"smtp_port"`
	SenderEmail    string     `json:"sender_email"`
	RecipientCount int        `json:"recipient_count"`
}

// Notifier はアラートメールを送信します。設定が不完全な場合はログ出力のみ行います。
type Notifier struct {
	cfg    SMTPConfig
	sender Sender
	now    func() time.Time
	log    zerolog.Logger

	mu       sync.Mutex
	sent     int
	failed   int
	lastSent time.Time
}

func NewNotifier(cfg SMTPConfig, sender Sender) *Notifier {
	if sender == nil {
		sender = NewSMTPSender(cfg)
	}
	n := &Notifier{
		cfg:    cfg,
		sender: sender,
		now:    time.Now,
		log:    logging.Component("email"),
	}
	if !cfg.complete() {
		n.log.Warn().Msg("email configuration incomplete, alerts will only be logged")
	}
	return n
}

func (n *Notifier) Enabled() bool { return n != nil && n.cfg.complete() }

func (n *Notifier) SendInactivityAlert(ctx context.Context, since time.Duration, last *time.Time) error {
	m, err := RenderInactivityAlert(since, last, n.now())
	if err != nil {
		return err
	}
	return n.send(ctx, m)
}

func (n *Notifier) SendRecovery(ctx context.Context) error {
	m, err := RenderRecovery(n.now())
	if err != nil {
		return err
	}
	return n.send(ctx, m)
}

func (n *Notifier) SendTest(ctx context.Context) error {
	m, err := RenderTest(n.cfg.Server, n.cfg.Port, n.cfg.Sender, n.cfg.Recipients, n.cfg.UseTLS, n.now())
	if err != nil {
		return err
	}
	return n.send(ctx, m)
}

func (n *Notifier) send(ctx context.Context, m Mail) error {
	if !n.Enabled() {
		n.log.Warn().Str("subject", m.Subject).Msg("email not sent: notifications not configured")
		return ErrNotConfigured
	}
	msg, err := BuildMessage(n.cfg.Sender, n.cfg.Recipients, m)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = n.sender.Send(ctx, msg)
		cancel()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.failed++
		n.log.Error().Err(err).Str("subject", m.Subject).Msg("failed to send email")
		return err
	}
	n.sent++
	n.lastSent = n.now()
	n.log.Info().Str("subject", m.Subject).Int("recipients", len(n.cfg.Recipients)).Msg("email sent")
	return nil
}

func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := Stats{
		Enabled:        n.cfg.complete(),
		EmailsSent:     n.sent,
		EmailsFailed:   n.failed,
		SMTPServer:     n.cfg.Server,
		SMTPPort:       n.cfg.Port,
		SenderEmail:    n.cfg.Sender,
		RecipientCount: len(n.cfg.Recipients),
	}
	if !n.lastSent.IsZero() {
		t := n.lastSent
		st.LastEmailTime = &t
	}
	return st
}
