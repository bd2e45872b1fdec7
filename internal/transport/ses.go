package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.io/infrasutra/quickml/internal/message"
)

type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the part of the SES v2 client used here.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES submits raw messages through the AWS SES v2 API. SES picks its own
// envelope sender, so list mail is sent once per member with the member
// encoded in the feedback forwarding address, and bounces still reach the
// list's return address.
type SES struct {
	client SendEmailAPI
}

func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

func NewSESWithClient(client SendEmailAPI) *SES {
	return &SES{client: client}
}

func (s *SES) Name() string {
	return "ses"
}

func (s *SES) Deliver(ctx context.Context, mail *Mail) error {
	envelopes := mail.Envelopes()
	if len(envelopes) == 0 {
		return nil
	}
	from := mail.From
	if from == "" {
		if addresses := message.CollectAddresses(mail.Header.Get("From")); len(addresses) > 0 {
			from = addresses[0]
		}
	}
	if from == "" {
		return errors.New("ses: no sender address")
	}
	data := mail.CRLF()
	var errs []error
	for _, env := range envelopes {
		input := &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from),
			Destination: &types.Destination{
				ToAddresses: env.To,
			},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: data,
				},
			},
		}
		if env.From != "" {
			input.FeedbackForwardingEmailAddress = aws.String(env.From)
		}
		if _, err := s.client.SendEmail(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("ses send to %v: %w", env.To, err))
		}
	}
	return errors.Join(errs...)
}
