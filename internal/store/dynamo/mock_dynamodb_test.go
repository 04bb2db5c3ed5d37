package dynamo

import (
	"context"
	"errors"
	"strconv"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory table set. It understands exactly the
// update and condition expressions the store emits.
type mockDynamo struct {
	mu            sync.Mutex
	tables        map[string]map[string]map[string]types.AttributeValue
	transactCalls int
	lastTransact  *dyn.TransactWriteItemsInput
	transactErr   error
	queryItems    []map[string]types.AttributeValue
	lastQuery     *dyn.QueryInput
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func pkOf(key map[string]types.AttributeValue, names ...string) string {
	for _, n := range names {
		if v, ok := key[n]; ok {
			return v.(*types.AttributeValueMemberS).Value
		}
	}
	return ""
}

var pkNames = []string{"order_id", "product_id", "code", "user_id"}

func numAttr(item map[string]types.AttributeValue, name string) int64 {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v.Value, 10, 64)
	return n
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table(*params.TableName)[pkOf(params.Key, pkNames...)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(*params.TableName)[pkOf(params.Item, pkNames...)] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("UpdateItem not supported by mock")
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = params
	return &dyn.QueryOutput{Items: m.queryItems}, nil
}

// TransactWriteItems checks every condition first and applies nothing if any
// fails, reporting per-item cancellation reasons like the real service.
func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	m.lastTransact = params
	if m.transactErr != nil {
		err := m.transactErr
		m.transactErr = nil
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i].Code = sdkaws.String("None")
		if !m.conditionHolds(it) {
			reasons[i].Code = sdkaws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, it := range params.TransactItems {
		m.apply(it)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) conditionHolds(it types.TransactWriteItem) bool {
	switch {
	case it.Update != nil:
		u := it.Update
		cur, exists := m.table(*u.TableName)[pkOf(u.Key, pkNames...)]
		switch sdkaws.ToString(u.ConditionExpression) {
		case "attribute_exists(product_id) AND quantity >= :q AND #st = :available":
			q, _ := strconv.ParseInt(u.ExpressionAttributeValues[":q"].(*types.AttributeValueMemberN).Value, 10, 64)
			return exists && numAttr(cur, "quantity") >= q && strAttr(cur, "status") == "available"
		case "attribute_exists(product_id)":
			return exists
		case "used_count = :seen AND used_count < usage_limit":
			seen, _ := strconv.ParseInt(u.ExpressionAttributeValues[":seen"].(*types.AttributeValueMemberN).Value, 10, 64)
			return exists && numAttr(cur, "used_count") == seen && numAttr(cur, "used_count") < numAttr(cur, "usage_limit")
		}
		return false
	case it.Put != nil:
		p := it.Put
		cur, exists := m.table(*p.TableName)[pkOf(p.Item, pkNames...)]
		switch sdkaws.ToString(p.ConditionExpression) {
		case "attribute_not_exists(order_id)":
			return !exists
		case "#v = :expected":
			want, _ := strconv.ParseInt(p.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value, 10, 64)
			return exists && numAttr(cur, "version") == want
		case "":
			return true
		}
		return false
	case it.Delete != nil:
		return true
	}
	return false
}

func (m *mockDynamo) apply(it types.TransactWriteItem) {
	switch {
	case it.Update != nil:
		u := it.Update
		tbl := m.table(*u.TableName)
		pk := pkOf(u.Key, pkNames...)
		cur := copyItem(tbl[pk])
		vals := u.ExpressionAttributeValues
		switch sdkaws.ToString(u.UpdateExpression) {
		case "SET quantity = quantity - :q":
			q, _ := strconv.ParseInt(vals[":q"].(*types.AttributeValueMemberN).Value, 10, 64)
			cur["quantity"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(numAttr(cur, "quantity")-q, 10)}
		case "SET quantity = quantity + :q":
			q, _ := strconv.ParseInt(vals[":q"].(*types.AttributeValueMemberN).Value, 10, 64)
			cur["quantity"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(numAttr(cur, "quantity")+q, 10)}
		case "SET used_count = :next, #st = :status":
			cur["used_count"] = vals[":next"]
			cur["status"] = vals[":status"]
		}
		tbl[pk] = cur
	case it.Put != nil:
		m.table(*it.Put.TableName)[pkOf(it.Put.Item, pkNames...)] = it.Put.Item
	case it.Delete != nil:
		delete(m.table(*it.Delete.TableName), pkOf(it.Delete.Key, pkNames...))
	}
}
