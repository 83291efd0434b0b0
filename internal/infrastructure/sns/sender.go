package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-otp-auth/internal/config"
)

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TopicSender hands rendered emails to an SNS topic; a subscriber owns
// final delivery.
type TopicSender struct {
	client   publisher
	topicARN string
}

type message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewTopicSender(ctx context.Context, cfg *config.Config) (*TopicSender, error) {
	if cfg.SNSTopicARN == "" {
		return nil, errors.New("SNS_TOPIC_ARN is required for the sns channel")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.SNSRegion)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	clientOpts := []func(*sns.Options){}
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return &TopicSender{client: sns.NewFromConfig(awsCfg, clientOpts...), topicARN: cfg.SNSTopicARN}, nil
}

func (s *TopicSender) SendEmail(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(message{To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("marshal sns message: %w", err)
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String("email")},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
