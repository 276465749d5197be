package app

import "github.com/learnhub-io/learnhub/pkg/mail"

// SMTPSettings converts loaded configuration into SMTP mailer options.
func (c *Config) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.Email.SMTP.Enabled,
		Host:     c.Email.SMTP.Host,
		Port:     c.Email.SMTP.Port,
		Username: c.Email.SMTP.Username,
		Password: c.Email.SMTP.Password,
		From:     c.Email.SMTP.From,
		UseTLS:   c.Email.SMTP.UseTLS,
		Timeout:  c.Email.SMTP.Timeout,
	}
}
