package utils

import (
	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"
)

type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer delivers plain text mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	return m.dialer.DialAndSend(msg)
}

// LogMailer writes messages to the log instead of sending them. Used when
// no SMTP host is configured. Bodies may carry reset links, so they are
// only logged at debug level.
type LogMailer struct{}

func (LogMailer) Send(to, subject, body string) error {
	log.Info().
		Str("to", to).
		Str("subject", subject).
		Msg("Mail delivery disabled, message not sent")
	log.Debug().
		Str("to", to).
		Str("body", body).
		Msg("Unsent mail body")
	return nil
}
