package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"gopkg.in/gomail.v2"

	"github.com/BradenHooton/collegeerp/internal/auth"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

// EmailMessage is a single outbound email
type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// EmailSender delivers email. Implementations must not log message bodies.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// OTPPurpose selects the wording of an OTP email
type OTPPurpose string

const (
	OTPPurposeLogin  OTPPurpose = "login"
	OTPPurposeResend OTPPurpose = "resend"
	OTPPurposeReset  OTPPurpose = "password_reset"
)

var otpSubjects = map[OTPPurpose]string{
	OTPPurposeLogin:  "Login Verification OTP - College ERP",
	OTPPurposeResend: "Login OTP - College ERP",
	OTPPurposeReset:  "Password Reset OTP - College ERP",
}

// NewOTPEmail renders the email carrying code to the account holder
func NewOTPEmail(purpose OTPPurpose, to, firstName, code string) EmailMessage {
	minutes := int(auth.OTPValidity.Minutes())

	lead := "Your verification OTP is"
	notice := "If you did not attempt to login, please secure your account."
	switch purpose {
	case OTPPurposeResend:
		lead = "Your login OTP is"
	case OTPPurposeReset:
		lead = "Your password reset OTP is"
		notice = "If you did not request a password reset, please ignore this email."
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Dear %s,\n\n", firstName)
	fmt.Fprintf(&text, "%s: %s\n", lead, code)
	fmt.Fprintf(&text, "This OTP will expire in %d minutes.\n\n", minutes)
	fmt.Fprintf(&text, "%s\n\nBest regards,\nCollege ERP Team", notice)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <p>Dear %s,</p>
    <p>%s: <strong style="font-size: 20px; letter-spacing: 4px;">%s</strong></p>
    <p>This OTP will expire in %d minutes.</p>
    <p>%s</p>
    <p>Best regards,<br>College ERP Team</p>
</body>
</html>
`, html.EscapeString(firstName), lead, code, minutes, notice)

	return EmailMessage{
		To:       to,
		Subject:  otpSubjects[purpose],
		TextBody: text.String(),
		HTMLBody: htmlBody,
	}
}

// SESEmailSender sends emails using AWS SES
type SESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender creates a new AWS SES email sender
func NewSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Send delivers msg through SES
func (s *SESEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	body := &types.Body{
		Text: &types.Content{Data: aws.String(msg.TextBody)},
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody)}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body:    body,
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// SMTPEmailSender sends emails through an SMTP relay
type SMTPEmailSender struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

// NewSMTPEmailSender creates a new SMTP email sender
func NewSMTPEmailSender(host string, port int, user, password, from string, logger *slog.Logger) *SMTPEmailSender {
	return &SMTPEmailSender{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
		logger: logger,
	}
}

// Send delivers msg over SMTP. The dial is not cancellable; ctx is only
// checked before connecting.
func (s *SMTPEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("failed to send email via SMTP",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent", slog.String("email", pkglogger.SanitizedEmail(msg.To)))
	return nil
}
