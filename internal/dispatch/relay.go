package dispatch

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"
)

// The relay endpoint is fixed across all jobs; only credentials vary.
// Port 587 negotiates STARTTLS during the handshake.
const (
	DefaultRelayHost = "smtp.office365.com"
	DefaultRelayPort = 587
)

// Message is one fully-formed outbound mail.
type Message struct {
	From    string
	To      string
	BCC     string
	Subject string
	HTML    string
}

// Session is one authenticated, open connection to the relay. A session is
// exclusively owned by a single job's worker; it is never shared across
// concurrent jobs.
type Session interface {
	Send(m *Message) error
	Close() error
}

// Relay opens sessions against the relay endpoint for one job's credentials.
type Relay interface {
	// Open dials the relay, negotiates transport security and
	// authenticates. It fails fast on handshake or auth errors.
	Open() (Session, error)
	// Verify opens and immediately closes a probe connection to confirm
	// the relay is reachable and the credentials work, without sending
	// a message.
	Verify() error
}

// SMTPRelay is the gomail-backed Relay implementation.
type SMTPRelay struct {
	dialer *gomail.Dialer
}

// NewSMTPRelay builds a relay for the given endpoint and job credentials.
func NewSMTPRelay(host string, port int, creds Credentials) *SMTPRelay {
	return &SMTPRelay{dialer: gomail.NewDialer(host, port, creds.User, creds.Pass)}
}

// Open dials and authenticates a fresh session.
func (r *SMTPRelay) Open() (Session, error) {
	sc, err := r.dialer.Dial()
	if err != nil {
		return nil, fmt.Errorf("relay connect to %s:%d failed: %w", r.dialer.Host, r.dialer.Port, err)
	}
	return &smtpSession{sc: sc}, nil
}

// Verify probes the relay with a throwaway connection.
func (r *SMTPRelay) Verify() error {
	sc, err := r.dialer.Dial()
	if err != nil {
		return err
	}
	return sc.Close()
}

type smtpSession struct {
	sc gomail.SendCloser
}

func (s *smtpSession) Send(m *Message) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	if m.BCC != "" {
		msg.SetHeader("Bcc", m.BCC)
	}
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/html", m.HTML)
	return gomail.Send(s.sc, msg)
}

func (s *smtpSession) Close() error {
	return s.sc.Close()
}
