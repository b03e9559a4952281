package document

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/nimburion/docops/pkg/codec"
	"github.com/nimburion/docops/pkg/query"
	dynamostore "github.com/nimburion/docops/pkg/store/dynamodb"
)

// DefaultDynamoKey is the partition key attribute holding the document identifier.
const DefaultDynamoKey = "id"

// DynamoStore is a Store with one DynamoDB table per collection. Queries run
// as filtered scans; ordering and limits are applied after the scan because
// DynamoDB cannot order a scan by arbitrary attributes. Instants are stored as
// RFC 3339 strings in UTC.
type DynamoStore struct {
	adapter *dynamostore.Adapter
	key     string
	now     func() time.Time
}

// NewDynamoStore wraps a connected adapter. An empty key selects DefaultDynamoKey.
func NewDynamoStore(adapter *dynamostore.Adapter, key string) (*DynamoStore, error) {
	if adapter == nil {
		return nil, fmt.Errorf("dynamodb adapter is required")
	}
	if key == "" {
		key = DefaultDynamoKey
	}
	return &DynamoStore{adapter: adapter, key: key, now: time.Now}, nil
}

// Run implements Store.
func (s *DynamoStore) Run(ctx context.Context, q Query) ([]Snapshot, error) {
	input := &awsdynamodb.ScanInput{TableName: aws.String(q.collection)}
	cond, ok, err := DynamoFilter(q)
	if err != nil {
		return nil, storeError("run", q.collection, err)
	}
	if ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, storeError("run", q.collection, err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	items, err := s.adapter.ScanAll(ctx, input)
	if err != nil {
		return nil, storeError("run", q.collection, err)
	}
	snaps := make([]Snapshot, 0, len(items))
	for _, item := range items {
		snap, err := s.fromItem(q.collection, item)
		if err != nil {
			return nil, storeError("run", q.collection, err)
		}
		snaps = append(snaps, snap)
	}
	// the scan filter already narrowed the page; Apply re-checks the
	// residual filters the expression builder cannot express and orders the result
	return Apply(snaps, q), nil
}

// Get implements Store.
func (s *DynamoStore) Get(ctx context.Context, ref DocumentRef) (Snapshot, error) {
	out, err := s.adapter.GetItem(ctx, &awsdynamodb.GetItemInput{
		TableName:      aws.String(ref.Collection),
		Key:            s.keyOf(ref),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Snapshot{}, storeError("get", ref.Collection, err)
	}
	if len(out.Item) == 0 {
		return Snapshot{}, storeError("get", ref.Collection, fmt.Errorf("%s: %w", ref, ErrNotFound))
	}
	snap, err := s.fromItem(ref.Collection, out.Item)
	if err != nil {
		return Snapshot{}, storeError("get", ref.Collection, err)
	}
	return snap, nil
}

// Set implements Store.
func (s *DynamoStore) Set(ctx context.Context, ref DocumentRef, data map[string]any) error {
	fields := s.resolve(data)
	fields[s.key] = ref.ID
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return storeError("set", ref.Collection, err)
	}
	if _, err := s.adapter.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName: aws.String(ref.Collection),
		Item:      item,
	}); err != nil {
		return storeError("set", ref.Collection, err)
	}
	return nil
}

// Update implements Store.
func (s *DynamoStore) Update(ctx context.Context, ref DocumentRef, data map[string]any) error {
	fields := s.resolve(data)
	delete(fields, s.key)
	if len(fields) == 0 {
		return nil
	}
	var update expression.UpdateBuilder
	for k, v := range fields {
		update = update.Set(expression.Name(k), expression.Value(v))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(s.key))).
		Build()
	if err != nil {
		return storeError("update", ref.Collection, err)
	}
	_, err = s.adapter.UpdateItem(ctx, &awsdynamodb.UpdateItemInput{
		TableName:                 aws.String(ref.Collection),
		Key:                       s.keyOf(ref),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if dynamostore.IsConditionFailed(err) {
		return storeError("update", ref.Collection, fmt.Errorf("%s: %w", ref, ErrNotFound))
	}
	if err != nil {
		return storeError("update", ref.Collection, err)
	}
	return nil
}

// Delete implements Store.
func (s *DynamoStore) Delete(ctx context.Context, ref DocumentRef) error {
	if _, err := s.adapter.DeleteItem(ctx, &awsdynamodb.DeleteItemInput{
		TableName: aws.String(ref.Collection),
		Key:       s.keyOf(ref),
	}); err != nil {
		return storeError("delete", ref.Collection, err)
	}
	return nil
}

// Add implements Store.
func (s *DynamoStore) Add(ctx context.Context, collection CollectionRef, data map[string]any) (DocumentRef, error) {
	ref := collection.Doc(uuid.NewString())
	if err := s.Set(ctx, ref, data); err != nil {
		return DocumentRef{}, err
	}
	return ref, nil
}

// DynamoFilter compiles the query's filters into a scan condition. Filters the
// expression language cannot state (non-string array membership, empty lists)
// are left to the in-process pass. ok is false when nothing compiled.
func DynamoFilter(q Query) (expression.ConditionBuilder, bool, error) {
	var (
		cond     expression.ConditionBuilder
		compiled bool
	)
	add := func(next expression.ConditionBuilder) {
		if !compiled {
			cond, compiled = next, true
			return
		}
		cond = cond.And(next)
	}
	for _, f := range q.filters {
		next, ok, err := dynamoCondition(f)
		if err != nil {
			return expression.ConditionBuilder{}, false, err
		}
		if ok {
			add(next)
		}
	}
	for _, s := range q.sorts {
		add(expression.AttributeExists(expression.Name(s.Field)))
	}
	return cond, compiled, nil
}

func dynamoCondition(f query.Filter) (expression.ConditionBuilder, bool, error) {
	name := expression.Name(f.Field)
	switch f.Operator {
	case query.Equal:
		return name.Equal(expression.Value(toDynamoValue(f.Value))), true, nil
	case query.NotEqual:
		return expression.And(
			expression.AttributeExists(name),
			name.NotEqual(expression.Value(toDynamoValue(f.Value))),
		), true, nil
	case query.LessThan:
		return name.LessThan(expression.Value(toDynamoValue(f.Value))), true, nil
	case query.LessThanEqual:
		return name.LessThanEqual(expression.Value(toDynamoValue(f.Value))), true, nil
	case query.GreaterThan:
		return name.GreaterThan(expression.Value(toDynamoValue(f.Value))), true, nil
	case query.GreaterThanEqual:
		return name.GreaterThanEqual(expression.Value(toDynamoValue(f.Value))), true, nil
	case query.ArrayContains:
		str, ok := f.Value.(string)
		if !ok {
			return expression.ConditionBuilder{}, false, nil
		}
		return name.Contains(str), true, nil
	case query.ArrayContainsAny:
		var conds []expression.ConditionBuilder
		for _, v := range listOf(f.Value) {
			str, ok := v.(string)
			if !ok {
				return expression.ConditionBuilder{}, false, nil
			}
			conds = append(conds, name.Contains(str))
		}
		return orAll(conds)
	case query.In, query.NotIn:
		values := listOf(f.Value)
		if len(values) == 0 {
			return expression.ConditionBuilder{}, false, nil
		}
		operands := make([]expression.OperandBuilder, 0, len(values))
		for _, v := range values {
			operands = append(operands, expression.Value(toDynamoValue(v)))
		}
		in := name.In(operands[0], operands[1:]...)
		if f.Operator == query.NotIn {
			return expression.And(expression.AttributeExists(name), expression.Not(in)), true, nil
		}
		return in, true, nil
	}
	return expression.ConditionBuilder{}, false, fmt.Errorf("%w: operator %q", query.ErrInvalidVariables, f.Operator)
}

func orAll(conds []expression.ConditionBuilder) (expression.ConditionBuilder, bool, error) {
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false, nil
	case 1:
		return conds[0], true, nil
	default:
		return expression.Or(conds[0], conds[1], conds[2:]...), true, nil
	}
}

func (s *DynamoStore) keyOf(ref DocumentRef) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.key: &types.AttributeValueMemberS{Value: ref.ID},
	}
}

func (s *DynamoStore) fromItem(collection string, item map[string]types.AttributeValue) (Snapshot, error) {
	fields := map[string]any{}
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return Snapshot{}, err
	}
	id, _ := fields[s.key].(string)
	delete(fields, s.key)
	return Snapshot{Ref: DocumentRef{Collection: collection, ID: id}, Fields: fields}, nil
}

func (s *DynamoStore) resolve(data map[string]any) map[string]any {
	now := formatDynamoTime(s.now())
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		if codec.IsSentinel(v) {
			out[k] = now
			continue
		}
		out[k] = toDynamoValue(v)
	}
	return out
}

// dynamoTimeLayout is fixed width in UTC so that string order on stored
// instants, in scans and in key conditions alike, is time order.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDynamoTime(t time.Time) string {
	return t.UTC().Format(dynamoTimeLayout)
}

func toDynamoValue(v any) any {
	switch t := v.(type) {
	case codec.Timestamp:
		return formatDynamoTime(t.Time())
	case time.Time:
		return formatDynamoTime(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = toDynamoValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = toDynamoValue(inner)
		}
		return out
	}
	return v
}
