package inbox

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/brojonat/myfinance/service/metrics"
)

// Sink receives parsed mails from the SMTP listener.
type Sink interface {
	Insert(ctx context.Context, m *Message, raw []byte) (bool, error)
}

// SMTPConfig configures the ingest listener. Auth is enabled when Username is set.
type SMTPConfig struct {
	Addr     string
	Domain   string
	Username string
	Password string
	// TLSConfig enables STARTTLS when set.
	TLSConfig *tls.Config
}

// SMTPServer accepts forwarded notification mails and stores them unread.
type SMTPServer struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

// NewSMTPServer builds the listener. metrics may be nil.
func NewSMTPServer(cfg SMTPConfig, sink Sink, m *metrics.Metrics, logger *slog.Logger) *SMTPServer {
	b := &backend{
		sink:     sink,
		metrics:  m,
		logger:   logger.With("component", "smtp_ingest"),
		username: cfg.Username,
		password: cfg.Password,
	}
	server := smtp.NewServer(b)
	server.Addr = cfg.Addr
	server.Domain = cfg.Domain
	server.AllowInsecureAuth = true
	server.TLSConfig = cfg.TLSConfig
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 10
	server.MaxMessageBytes = 10 << 20

	return &SMTPServer{smtp: server, logger: logger}
}

func (s *SMTPServer) ListenAndServe() error {
	s.logger.Info("smtp ingest listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close is called.
func (s *SMTPServer) Serve(l net.Listener) error {
	s.logger.Info("smtp ingest listening", "addr", l.Addr().String())
	return s.smtp.Serve(l)
}

func (s *SMTPServer) Close() error {
	return s.smtp.Close()
}

type backend struct {
	sink     Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	username string
	password string
}

func (b *backend) authEnabled() bool {
	return b.username != ""
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled() {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled() {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.username && password == s.backend.password {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg, err := ParseRFC822(raw)
	if err != nil {
		s.backend.metrics.RecordSMTPMessage("rejected")
		s.backend.logger.Warn("parse smtp message", "from", s.from, "error", err)
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 6, 0}, Message: "unparsable message"}
	}
	if msg.From == "" {
		msg.From = s.from
	}

	inserted, err := s.backend.sink.Insert(context.Background(), msg, raw)
	if err != nil {
		s.backend.metrics.RecordSMTPMessage("error")
		s.backend.logger.Error("store smtp message", "error", err)
		return err
	}
	if !inserted {
		s.backend.metrics.RecordSMTPMessage("duplicate")
		s.backend.logger.Info("smtp message already stored", "header_id", msg.HeaderID)
		return nil
	}

	s.backend.metrics.RecordSMTPMessage("stored")
	s.backend.logger.Info("stored notification mail", "id", msg.ID, "from", msg.From, "subject", msg.Subject)
	return nil
}

func (s *session) Reset() {
	s.from = ""
}

func (s *session) Logout() error {
	return nil
}
