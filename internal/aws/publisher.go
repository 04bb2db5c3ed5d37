package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	// FIFO queues need a group and a deduplication id on every message.
	FIFO bool
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string, fifo bool) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		FIFO:     fifo,
	}
}

// Message is one outbound SQS message. Body should be JSON.
type Message struct {
	Body       string
	GroupID    string
	DedupID    string
	Attributes map[string]string
}

// Send publishes msg. Attributes are sent as String message attributes.
func (p *Publisher) Send(ctx context.Context, msg Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &msg.Body,
	}
	if p.FIFO {
		input.MessageGroupId = awsString(msg.GroupID)
		input.MessageDeduplicationId = awsString(msg.DedupID)
	}
	if len(msg.Attributes) > 0 {
		msgAttrs := make(map[string]sqstypes.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
