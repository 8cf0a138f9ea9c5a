package channels

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

// SNSPublisher is the subset of the SNS client used for SMS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSConfig configures the SNS SMS transport.
type SMSConfig struct {
	Region          string `env:"SNS_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"SNS_ENDPOINT"`
	AccessKeyID     string `env:"SNS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SNS_SECRET_ACCESS_KEY"`
	SenderID        string `env:"SNS_SENDER_ID"`
	// MaxLength truncates message bodies in runes. Zero disables truncation.
	MaxLength int `env:"SNS_MAX_LENGTH" envDefault:"1600" validate:"min=0"`
}

// SMS publishes notifications as SMS through Amazon SNS.
type SMS struct {
	client    SNSPublisher
	senderID  string
	maxLength int
}

// SMSOption configures an SMS adapter.
type SMSOption func(*smsOptions)

type smsOptions struct {
	client        SNSPublisher
	configOptions []func(*config.LoadOptions) error
}

// WithSNSClient injects a pre-built client, skipping AWS config loading.
func WithSNSClient(client SNSPublisher) SMSOption {
	return func(o *smsOptions) {
		o.client = client
	}
}

// WithAWSConfigOption appends an option to config.LoadDefaultConfig.
func WithAWSConfigOption(opt func(*config.LoadOptions) error) SMSOption {
	return func(o *smsOptions) {
		o.configOptions = append(o.configOptions, opt)
	}
}

// NewSMS builds the SNS client from cfg unless one is injected.
// Static credentials are used when both keys are set; otherwise the default
// AWS credential chain applies.
func NewSMS(ctx context.Context, cfg SMSConfig, opts ...SMSOption) (*SMS, error) {
	options := &smsOptions{}
	for _, opt := range opts {
		opt(options)
	}

	client := options.client
	if client == nil {
		if cfg.Region == "" {
			return nil, fmt.Errorf("%w: SNS region is required", ErrInvalidConfig)
		}

		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			awsOptions = append(awsOptions, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}
		awsOptions = append(awsOptions, options.configOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("failed to load AWS config: %w", err))
		}

		client = sns.NewFromConfig(awsConfig, func(o *sns.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}

	return &SMS{
		client:    client,
		senderID:  cfg.SenderID,
		maxLength: cfg.MaxLength,
	}, nil
}

func (s *SMS) Channel() delivery.Channel { return delivery.ChannelSMS }

func (s *SMS) Send(ctx context.Context, n delivery.Notification) delivery.Outcome {
	if n.Address == "" {
		return delivery.PermanentFailure("sms: phone number is empty")
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(n.Address),
		Message:           aws.String(s.text(n)),
		MessageAttributes: s.attributes(n.Category),
	})
	if err != nil {
		return classify(err, isPermanentSNSError(err))
	}

	return delivery.Accepted(aws.ToString(out.MessageId))
}

// text prefixes the body with the title and truncates to maxLength runes.
func (s *SMS) text(n delivery.Notification) string {
	msg := n.Body
	if n.Title != "" {
		msg = n.Title + "\n" + n.Body
	}
	if s.maxLength > 0 && utf8.RuneCountInString(msg) > s.maxLength {
		msg = string([]rune(msg)[:s.maxLength])
	}
	return msg
}

func (s *SMS) attributes(cat delivery.Category) map[string]types.MessageAttributeValue {
	smsType := "Transactional"
	if cat == delivery.CategoryMarketing {
		smsType = "Promotional"
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(smsType)},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}
	return attrs
}

// isPermanentSNSError reports SNS rejections that resending cannot fix.
// Unknown API errors fall back to the fault reported by the service.
func isPermanentSNSError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "InvalidParameter", "InvalidParameterValue", "AuthorizationError",
		"EndpointDisabled", "NotFound", "OptedOut", "ValidationError":
		return true
	case "Throttling", "ThrottlingException", "Throttled", "InternalError",
		"InternalFailure", "ServiceUnavailable", "KMSThrottling":
		return false
	}
	return apiErr.ErrorFault() == smithy.FaultClient
}
