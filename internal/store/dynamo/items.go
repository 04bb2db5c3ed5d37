package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/cart"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

// get reads one item with a consistent read. found is false when the key does
// not exist.
func (s *Store) get(ctx context.Context, op, table string, key map[string]types.AttributeValue, out any) (bool, error) {
	consistent := true
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &table,
		Key:            key,
		ConsistentRead: &consistent,
	})
	if err != nil {
		return false, classify(op, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, apperror.Wrap(apperror.KindInternal, op, fmt.Errorf("unmarshal: %w", err))
	}
	return true, nil
}

func (tx *session) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	const op = "dynamo.GetProduct"
	var p inventory.Product
	found, err := tx.s.get(ctx, op, tx.s.tables.Products, keyS("product_id", productID), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(op, "product", productID)
	}
	return &p, nil
}

// DecrementStock only applies while the product is available and still holds
// qty units.
func (tx *session) DecrementStock(ctx context.Context, productID string, qty int) error {
	tx.add("product#"+productID, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &tx.s.tables.Products,
			Key:                      keyS("product_id", productID),
			UpdateExpression:         awsString("SET quantity = quantity - :q"),
			ConditionExpression:      awsString("attribute_exists(product_id) AND quantity >= :q AND #st = :available"),
			ExpressionAttributeNames: map[string]string{"#st": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":         numInt(int64(qty)),
				":available": &types.AttributeValueMemberS{Value: string(inventory.StatusAvailable)},
			},
		},
	})
	return nil
}

func (tx *session) IncrementStock(ctx context.Context, productID string, qty int) error {
	tx.add("product#"+productID, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &tx.s.tables.Products,
			Key:                 keyS("product_id", productID),
			UpdateExpression:    awsString("SET quantity = quantity + :q"),
			ConditionExpression: awsString("attribute_exists(product_id)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q": numInt(int64(qty)),
			},
		},
	})
	return nil
}

func (tx *session) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	var c cart.Cart
	found, err := tx.s.get(ctx, "dynamo.GetCart", tx.s.tables.Carts, keyS("user_id", userID), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return &cart.Cart{UserID: userID}, nil
	}
	return &c, nil
}

func (tx *session) ClearCart(ctx context.Context, userID string) error {
	tx.add("cart#"+userID, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: &tx.s.tables.Carts,
			Key:       keyS("user_id", userID),
		},
	})
	return nil
}

func (tx *session) GetVoucher(ctx context.Context, code string) (*voucher.Voucher, error) {
	const op = "dynamo.GetVoucher"
	var v voucher.Voucher
	found, err := tx.s.get(ctx, op, tx.s.tables.Vouchers, keyS("code", code), &v)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(op, "voucher", code)
	}
	return &v, nil
}

// SaveVoucherUsage writes the new count only if nobody else used the voucher
// since it was read.
func (tx *session) SaveVoucherUsage(ctx context.Context, v voucher.Voucher, seenUsedCount int) error {
	tx.add("voucher#"+v.Code, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &tx.s.tables.Vouchers,
			Key:                      keyS("code", v.Code),
			UpdateExpression:         awsString("SET used_count = :next, #st = :status"),
			ConditionExpression:      awsString("used_count = :seen AND used_count < usage_limit"),
			ExpressionAttributeNames: map[string]string{"#st": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":next":   numInt(int64(v.UsedCount)),
				":seen":   numInt(int64(seenUsedCount)),
				":status": &types.AttributeValueMemberS{Value: string(v.Status)},
			},
		},
	})
	return nil
}

func (tx *session) UserExists(ctx context.Context, userID string) (bool, error) {
	var u struct {
		UserID string `dynamodbav:"user_id"`
	}
	return tx.s.get(ctx, "dynamo.UserExists", tx.s.tables.Users, keyS("user_id", userID), &u)
}
