package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client sesAPI
	log    *logger.Component
}

// NewSESSender loads AWS configuration for region. Static keys are used when
// both are set; otherwise the default credential chain applies (env, shared
// profile, ECS task role).
func NewSESSender(ctx context.Context, region, accessKey, secretKey string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return newSESSender(sesv2.NewFromConfig(cfg)), nil
}

func newSESSender(client sesAPI) *SESSender {
	return &SESSender{client: client, log: logger.For("transport.ses")}
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*domain.Receipt, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.JobID != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("job_id"), Value: aws.String(msg.JobID)},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.log.Warn("send failed", "to", msg.To, "job_id", msg.JobID, "error", err)
		return nil, classifySES(err)
	}

	messageID := aws.ToString(out.MessageId)
	s.log.Debug("sent", "to", msg.To, "job_id", msg.JobID, "message_id", messageID)
	return &domain.Receipt{
		MessageID: messageID,
		Transport: "ses",
		Accepted:  []string{msg.To},
		SentAt:    time.Now(),
	}, nil
}

// classifySES marks rejections that a retry cannot fix as permanent.
// Throttling, service errors and network failures stay retryable.
func classifySES(err error) error {
	var (
		rejected   *types.MessageRejected
		unverified *types.MailFromDomainNotVerifiedException
		badRequest *types.BadRequestException
		notFound   *types.NotFoundException
		suspended  *types.AccountSuspendedException
	)
	switch {
	case errors.As(err, &rejected),
		errors.As(err, &unverified),
		errors.As(err, &badRequest),
		errors.As(err, &notFound),
		errors.As(err, &suspended):
		return Permanent(fmt.Errorf("ses: %w", err))
	}
	return fmt.Errorf("ses: %w", err)
}
