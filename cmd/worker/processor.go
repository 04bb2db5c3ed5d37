package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-order-payments/internal/aws"
	"github.com/imrishuroy/go-order-payments/internal/notify"
)

// Processor persists queued notifications. Redelivered messages are
// absorbed by a conditional put on notification_id.
type Processor struct {
	dynamo aws.DynamoDBAPI
	table  string
	v      *validator.Validate
	logger *slog.Logger
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.Clients, table string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		dynamo: clients.DynamoDB,
		table:  table,
		v:      validator.New(),
		logger: logger.With(slog.String("component", "worker")),
	}
}

// Handle processes an SQS batch and reports the messages that should be
// redelivered. Malformed messages are reported too so they reach the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	p.logger.InfoContext(ctx, "received batch", slog.Int("messages", len(ev.Records)))

	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.ErrorContext(ctx, "message failed",
				slog.String("message_id", rec.MessageId), slog.Any("error", err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	n, err := decodeMessage(p.v, rec.Body)
	if err != nil {
		return err
	}

	stored, err := p.save(ctx, n)
	if err != nil {
		return err
	}
	if !stored {
		p.logger.InfoContext(ctx, "duplicate notification skipped", slog.String("notification_id", n.ID))
		return nil
	}
	p.logger.InfoContext(ctx, "notification stored",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("role", string(n.Role)))
	return nil
}

// save writes n once. It reports false when the id was already stored.
func (p *Processor) save(ctx context.Context, n notify.Notification) (bool, error) {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return false, fmt.Errorf("marshal notification: %w", err)
	}
	_, err = p.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &p.table,
		Item:                item,
		ConditionExpression: strPtr("attribute_not_exists(notification_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("put notification %s: %w", n.ID, err)
	}
	return true, nil
}

func strPtr(s string) *string { return &s }
