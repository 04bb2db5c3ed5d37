package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/orders"
)

// GetOrder fetches an order by order_id.
func (tx *session) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	const op = "dynamo.GetOrder"
	var o orders.Order
	found, err := tx.s.get(ctx, op, tx.s.tables.Orders, keyS("order_id", orderID), &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(op, "order", orderID)
	}
	return &o, nil
}

// CreateOrder puts a new order at version 1, guarded by
// attribute_not_exists(order_id).
func (tx *session) CreateOrder(ctx context.Context, o orders.Order) error {
	o.Version = 1
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, "dynamo.CreateOrder", fmt.Errorf("marshal order item: %w", err))
	}
	tx.add("order#"+o.OrderID, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &tx.s.tables.Orders,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	})
	return nil
}

// UpdateOrder replaces the order if its stored version still equals
// o.Version, bumping the version by one.
func (tx *session) UpdateOrder(ctx context.Context, o orders.Order) error {
	expected := o.Version
	o.Version = expected + 1
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, "dynamo.UpdateOrder", fmt.Errorf("marshal order item: %w", err))
	}
	tx.add("order#"+o.OrderID, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &tx.s.tables.Orders,
			Item:                item,
			ConditionExpression: awsString("#v = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#v": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": numInt(expected),
			},
		},
	})
	return nil
}

// FindStalePending queries the pending-payment index for online orders
// created before the cutoff, oldest first.
func (s *Store) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]orders.Order, error) {
	const op = "dynamo.FindStalePending"
	var out []orders.Order
	var startKey map[string]types.AttributeValue
	for {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tables.Orders,
			IndexName:              &s.tables.PendingIndex,
			KeyConditionExpression: awsString("payment_status = :pending AND created_at < :cutoff"),
			FilterExpression:       awsString("order_status = :pending AND payment_method IN (:wallet, :card)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pending": &types.AttributeValueMemberS{Value: string(orders.PaymentPending)},
				":cutoff":  &types.AttributeValueMemberS{Value: createdBefore.UTC().Format(time.RFC3339Nano)},
				":wallet":  &types.AttributeValueMemberS{Value: string(orders.MethodWallet)},
				":card":    &types.AttributeValueMemberS{Value: string(orders.MethodCard)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, classify(op, err)
		}
		var page []orders.Order
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, apperror.Wrap(apperror.KindInternal, op, fmt.Errorf("unmarshal orders: %w", err))
		}
		out = append(out, page...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = res.LastEvaluatedKey
	}
}
