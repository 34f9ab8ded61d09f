package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/jordan-wright/email"

	"github.com/ignite/report-etl/internal/pkg/logger"
)

// Config selects and configures a transport.
type Config struct {
	Transport    string // "smtp", "ses" or "log"
	SMTPHost     string
	SMTPPort     int
	From         string
	To           []string
	Password     string
	SESRegion    string
	SESAccessKey string
	SESSecretKey string
}

// NewTransport builds the transport named in cfg.
func NewTransport(ctx context.Context, cfg Config) (Transport, error) {
	switch cfg.Transport {
	case "smtp":
		return &SMTPTransport{
			host:     cfg.SMTPHost,
			port:     cfg.SMTPPort,
			from:     cfg.From,
			to:       cfg.To,
			password: cfg.Password,
		}, nil
	case "ses":
		return NewSESTransport(ctx, cfg)
	case "log":
		return LogTransport{}, nil
	}
	return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
}

// =============================================================================
// SMTP
// =============================================================================

// SMTPTransport sends plain-text mail over STARTTLS with PLAIN auth.
type SMTPTransport struct {
	host     string
	port     int
	from     string
	to       []string
	password string
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) envelope(msg Message) *email.Email {
	mail := email.NewEmail()
	mail.From = t.from
	mail.To = append([]string(nil), t.to...)
	mail.Subject = msg.Subject
	mail.Text = []byte(msg.Body)
	return mail
}

// Send delivers msg. The SMTP client has no context support, so the call
// runs in its own goroutine and Send returns when ctx expires.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	mail := t.envelope(msg)
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	auth := smtp.PlainAuth("", t.from, t.password, t.host)

	done := make(chan error, 1)
	go func() {
		done <- mail.SendWithStartTLS(addr, auth, &tls.Config{ServerName: t.host})
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp %s: %w", addr, ctx.Err())
	}
}

// =============================================================================
// SES
// =============================================================================

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends mail through Amazon SES.
type SESTransport struct {
	client sesAPI
	from   string
	to     []string
}

// NewSESTransport creates an SES transport. Static keys are used when set,
// otherwise the default credential chain.
func NewSESTransport(ctx context.Context, cfg Config) (*SESTransport, error) {
	region := cfg.SESRegion
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.SESAccessKey != "" && cfg.SESSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESTransport{client: sesv2.NewFromConfig(awsCfg), from: cfg.From, to: cfg.To}, nil
}

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Send(ctx context.Context, msg Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination:      &types.Destination{ToAddresses: t.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses: %w", err)
	}
	if out.MessageId != nil {
		logger.Debug("ses message accepted", "message_id", *out.MessageId, "recipients", strings.Join(t.to, ","))
	}
	return nil
}

// =============================================================================
// Log
// =============================================================================

// LogTransport writes notifications to the log instead of sending them.
type LogTransport struct{}

func (LogTransport) Name() string { return "log" }

func (LogTransport) Send(_ context.Context, msg Message) error {
	logger.Info("notification", "subject", msg.Subject, "body", msg.Body)
	return nil
}
