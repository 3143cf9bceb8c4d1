package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/tokenlink/pkg/logger"
)

// LoginLinkEmail is the content of an email-channel login token.
type LoginLinkEmail struct {
	Link       string
	VerifyCode string
	ExpiresAt  time.Time
}

// EmailService defines the interface for sending emails
type EmailService interface {
	SendLoginLink(ctx context.Context, email string, msg LoginLinkEmail) error
}

// SESAPI is the slice of the SES client used here
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESEmailServiceWithClient wraps an existing SES client
func NewSESEmailServiceWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendLoginLink mails a magic link plus the verify code shown on the device
func (s *AWSSESEmailService) SendLoginLink(ctx context.Context, email string, msg LoginLinkEmail) error {
	expires := msg.ExpiresAt.UTC().Format("15:04 MST")

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .code { font-size: 24px; letter-spacing: 4px; font-family: monospace; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign in</h1>
        <p>Someone asked to sign in with this email address. Check that your device shows this code:</p>
        <p class="code">%s</p>
        <p><a href="%s" class="button">Sign in</a></p>
        <p>The link expires at %s and works once.</p>
        <div class="footer">
            <p>If you did not try to sign in, you can ignore this email.</p>
        </div>
    </div>
</body>
</html>
`, msg.VerifyCode, msg.Link, expires)

	textBody := fmt.Sprintf(`Sign in

Someone asked to sign in with this email address. Check that your device shows this code:

    %s

Open this link to finish signing in:
%s

The link expires at %s and works once.

If you did not try to sign in, you can ignore this email.
`, msg.VerifyCode, msg.Link, expires)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your sign-in link"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send login link via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("login link sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
