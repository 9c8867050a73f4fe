package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/Mutter0815/liftsmail/pkg/config"
	"github.com/Mutter0815/liftsmail/pkg/logx"
)

// Message is one outbound HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer picks a mailer by name: "ses" or "log".
func NewMailer(ctx context.Context, kind string, cfg config.SESConfig) (Mailer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ses":
		return NewSESMailer(ctx, cfg)
	case "", "log":
		return LogMailer{}, nil
	}
	return nil, fmt.Errorf("unknown mailer %q", kind)
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer delivers through AWS SES v2.
type SESMailer struct {
	client sesAPI
	from   string
}

func NewSESMailer(ctx context.Context, cfg config.SESConfig) (*SESMailer, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("ses mailer: MAIL_FROM is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SESMailer{client: sesv2.NewFromConfig(awsCfg), from: cfg.From}, nil
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if _, err := m.client.SendEmail(ctx, in); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// LogMailer only logs; used in development.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	logx.L().Infow("mail_logged",
		"to", logx.RedactEmail(msg.To),
		"subject", msg.Subject,
		"bytes", len(msg.HTML),
	)
	return nil
}
