package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/brojonat/myfinance/service/metrics"
)

// MailConfig configures the outbound relay.
type MailConfig struct {
	Addr          string // host:port of the relay
	Username      string // PLAIN auth when set
	Password      string
	StartTLS      bool        // upgrade the connection before auth
	TLSConfig     *tls.Config // optional; ServerName defaults to the relay host
	From          string
	To            string
	SubjectPrefix string
}

// MailNotifier sends alerts as plain-text mail through an SMTP relay.
type MailNotifier struct {
	cfg     MailConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewMailNotifier(cfg MailConfig, m *metrics.Metrics) *MailNotifier {
	if cfg.From == "" {
		cfg.From = cfg.To
	}
	return &MailNotifier{cfg: cfg, metrics: m, now: time.Now}
}

func (n *MailNotifier) Notify(ctx context.Context, a Alert) error {
	raw, err := n.Compose(a)
	if err != nil {
		n.metrics.RecordAlert("mail", "error")
		return err
	}
	if err := n.send(ctx, raw); err != nil {
		n.metrics.RecordAlert("mail", "error")
		return fmt.Errorf("send alert mail: %w", err)
	}
	n.metrics.RecordAlert("mail", "sent")
	return nil
}

// Compose renders the alert as an RFC 5322 message.
func (n *MailNotifier) Compose(a Alert) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetAddressList("From", []*mail.Address{{Name: "MyFinance", Address: n.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: n.cfg.To}})
	h.SetSubject(n.subject(a))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	if _, err := w.Write([]byte(a.Text())); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *MailNotifier) subject(a Alert) string {
	if n.cfg.SubjectPrefix == "" {
		return a.Subject
	}
	return n.cfg.SubjectPrefix + " " + a.Subject
}

func (n *MailNotifier) tlsConfig() *tls.Config {
	cfg := &tls.Config{}
	if n.cfg.TLSConfig != nil {
		cfg = n.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _, _ = net.SplitHostPort(n.cfg.Addr)
	}
	return cfg
}

func (n *MailNotifier) send(ctx context.Context, raw []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.cfg.Addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var c *smtp.Client
	if n.cfg.StartTLS {
		c, err = smtp.NewClientStartTLS(conn, n.tlsConfig())
		if err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else {
		c = smtp.NewClient(conn)
	}
	defer c.Close()

	if n.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.SendMail(n.cfg.From, []string{n.cfg.To}, bytes.NewReader(raw)); err != nil {
		return err
	}
	return c.Quit()
}
