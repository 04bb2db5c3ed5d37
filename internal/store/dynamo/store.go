// Package dynamo implements store.Store on DynamoDB.
//
// Reads are strongly consistent GetItem calls. Writes are collected as
// conditional TransactWriteItems entries and sent in a single transaction on
// Commit, so a unit of work either lands completely or not at all.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"net"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/aws"
	"github.com/imrishuroy/go-order-payments/internal/store"
)

// maxTransactItems is the DynamoDB limit per TransactWriteItems call.
const maxTransactItems = 100

// Tables names every table the store touches.
type Tables struct {
	Products string
	Carts    string
	Vouchers string
	Orders   string
	Users    string
	// PendingIndex is a GSI on orders keyed by payment_status / created_at.
	PendingIndex string
}

// Store encapsulates the order flow tables.
type Store struct {
	client aws.DynamoDBAPI
	tables Tables
}

var (
	_ store.Store            = (*Store)(nil)
	_ store.StaleOrderFinder = (*Store)(nil)
)

// NewStore creates a new Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{client: client, tables: tables}
}

// Begin opens a session. Each session carries its own client request token so
// SDK-level retries of the same commit are deduplicated by DynamoDB.
func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	return &session{
		s:       s,
		token:   uuid.NewString(),
		touched: map[string]bool{},
	}, nil
}

type session struct {
	s       *Store
	token   string
	items   []types.TransactWriteItem
	touched map[string]bool
	dupKey  string
	done    bool
}

func (tx *session) add(key string, item types.TransactWriteItem) {
	if tx.touched[key] && tx.dupKey == "" {
		tx.dupKey = key
	}
	tx.touched[key] = true
	tx.items = append(tx.items, item)
}

func (tx *session) Commit(ctx context.Context) error {
	const op = "dynamo.Commit"
	if tx.done {
		return apperror.New(apperror.KindInternal, op, "session already closed")
	}
	tx.done = true
	if tx.dupKey != "" {
		return apperror.New(apperror.KindInternal, op, "item %s written twice in one transaction", tx.dupKey)
	}
	if len(tx.items) == 0 {
		return nil
	}
	if len(tx.items) > maxTransactItems {
		return apperror.New(apperror.KindValidation, op, "transaction has %d writes, limit is %d", len(tx.items), maxTransactItems)
	}

	_, err := tx.s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems:      tx.items,
		ClientRequestToken: &tx.token,
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (tx *session) Close() {
	tx.done = true
	tx.items = nil
}

// classify maps SDK failures onto error kinds. Conditional failures mean
// another writer changed an item since it was read, which a retry against
// fresh state resolves.
func classify(op string, err error) error {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return &apperror.Error{Kind: cancellationKind(tce.CancellationReasons), Op: op, Err: err}
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return apperror.Wrap(apperror.KindWriteConflict, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TransactionConflictException":
			return apperror.Wrap(apperror.KindWriteConflict, op, err)
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "InternalServerError", "ServiceUnavailable",
			"TransactionInProgressException":
			return apperror.Wrap(apperror.KindTransientStore, op, err)
		}
		return apperror.Wrap(apperror.KindInternal, op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(apperror.KindTransientStore, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperror.Wrap(apperror.KindTransientStore, op, err)
	}
	return apperror.Wrap(apperror.KindInternal, op, err)
}

func cancellationKind(reasons []types.CancellationReason) apperror.Kind {
	kind := apperror.KindWriteConflict
	for _, r := range reasons {
		switch sdkaws.ToString(r.Code) {
		case "", "None", "ConditionalCheckFailed", "TransactionConflict":
		case "ThrottlingError", "ProvisionedThroughputExceeded", "RequestLimitExceeded":
			kind = apperror.KindTransientStore
		default:
			return apperror.KindInternal
		}
	}
	return kind
}

func notFound(op, what, id string) error {
	return apperror.New(apperror.KindNotFound, op, "%s %s not found", what, id)
}

func keyS(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func numInt(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}

func awsString(s string) *string { return &s }
