// Package email delivers marketplace notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"leadmarket/platform/config"
	"leadmarket/platform/logger"

	gomail "github.com/wneessen/go-mail"
)

const (
	subjectOfferReceived  = "New lead offer for you"
	subjectOfferExpiring  = "Your lead offer expires soon"
	subjectLeadSold       = "A builder has been matched to your project"
	subjectLeadUnsold     = "We could not match your project this time"
	subjectPurchaseFailed = "Your lead purchase could not be completed"
)

// Sender delivers the marketplace notification set.
type Sender interface {
	SendOfferReceived(ctx context.Context, toEmail, projectType string, priceCents int64, expiresAt time.Time, offerURL string) error
	SendOfferExpiring(ctx context.Context, toEmail, projectType string, expiresAt time.Time, offerURL string) error
	SendLeadSold(ctx context.Context, toEmail, businessName string) error
	SendLeadUnsold(ctx context.Context, toEmail string) error
	SendPurchaseFailed(ctx context.Context, toEmail, reason string) error
}

// SMTPSender delivers via a direct SMTP connection using go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a sender from email config.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendOfferReceived(ctx context.Context, toEmail, projectType string, priceCents int64, expiresAt time.Time, offerURL string) error {
	content, err := renderEmail(emailData{
		Heading: "You have a new exclusive lead offer",
		Body: fmt.Sprintf(
			"A %s project is available for £%.2f. The offer is exclusively yours until %s.",
			projectType, float64(priceCents)/100, expiresAt.Format("2 Jan 2006 15:04 MST"),
		),
		CTALabel: "View offer",
		CTAURL:   offerURL,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectOfferReceived, content)
}

func (s *SMTPSender) SendOfferExpiring(ctx context.Context, toEmail, projectType string, expiresAt time.Time, offerURL string) error {
	content, err := renderEmail(emailData{
		Heading: "Your lead offer is about to expire",
		Body: fmt.Sprintf(
			"Your exclusive offer on a %s project expires at %s. After that it moves to the next builder.",
			projectType, expiresAt.Format("2 Jan 2006 15:04 MST"),
		),
		CTALabel: "Respond now",
		CTAURL:   offerURL,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectOfferExpiring, content)
}

func (s *SMTPSender) SendLeadSold(ctx context.Context, toEmail, businessName string) error {
	content, err := renderEmail(emailData{
		Heading: "Good news, a builder has taken your project",
		Body:    fmt.Sprintf("%s has purchased your project details and will be in touch shortly.", businessName),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectLeadSold, content)
}

func (s *SMTPSender) SendLeadUnsold(ctx context.Context, toEmail string) error {
	content, err := renderEmail(emailData{
		Heading: "We could not match your project",
		Body:    "None of the builders in your area took the project this time. You can resubmit it or adjust the details and try again.",
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectLeadUnsold, content)
}

func (s *SMTPSender) SendPurchaseFailed(ctx context.Context, toEmail, reason string) error {
	content, err := renderEmail(emailData{
		Heading: "Your lead purchase could not be completed",
		Body:    fmt.Sprintf("The payment for your accepted lead did not go through (%s). The lead has been released; you can purchase other available leads.", reason),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectPurchaseFailed, content)
}

// NoopSender logs instead of sending. Used when email delivery is disabled.
type NoopSender struct {
	log *logger.Logger
}

// NewNoopSender creates a sender that only logs.
func NewNoopSender(log *logger.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (n *NoopSender) SendOfferReceived(ctx context.Context, toEmail, projectType string, priceCents int64, expiresAt time.Time, offerURL string) error {
	n.log.Info("email disabled, skipping lead_offered", "to", toEmail)
	return nil
}

func (n *NoopSender) SendOfferExpiring(ctx context.Context, toEmail, projectType string, expiresAt time.Time, offerURL string) error {
	n.log.Info("email disabled, skipping offer_expiring", "to", toEmail)
	return nil
}

func (n *NoopSender) SendLeadSold(ctx context.Context, toEmail, businessName string) error {
	n.log.Info("email disabled, skipping lead_sold", "to", toEmail)
	return nil
}

func (n *NoopSender) SendLeadUnsold(ctx context.Context, toEmail string) error {
	n.log.Info("email disabled, skipping lead_unsold", "to", toEmail)
	return nil
}

func (n *NoopSender) SendPurchaseFailed(ctx context.Context, toEmail, reason string) error {
	n.log.Info("email disabled, skipping purchase_failed", "to", toEmail)
	return nil
}
