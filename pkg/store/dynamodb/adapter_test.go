package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeAPI serves scans from fixed pages keyed by the start key's "id".
type fakeAPI struct {
	pages     [][]map[string]types.AttributeValue
	scans     int
	listErr   error
	deadlines []bool
}

func item(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func (f *fakeAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	page := f.scans
	f.scans++
	out := &dynamodb.ScanOutput{Items: f.pages[page]}
	if page+1 < len(f.pages) {
		out.LastEvaluatedKey = f.pages[page][len(f.pages[page])-1]
	}
	return out, nil
}

func (f *fakeAPI) ListTables(context.Context, *dynamodb.ListTablesInput, ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return &dynamodb.ListTablesOutput{}, f.listErr
}

func (f *fakeAPI) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: item("a")}, nil
}

func (f *fakeAPI) PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
}

func (f *fakeAPI) DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestNewAdapter_RequiresRegion(t *testing.T) {
	if _, err := NewAdapter(Config{}, nil); err == nil {
		t.Fatal("expected error for an empty region")
	}
}

func TestScanAll_FollowsPages(t *testing.T) {
	api := &fakeAPI{pages: [][]map[string]types.AttributeValue{
		{item("a"), item("b")},
		{item("c")},
		{item("d")},
	}}
	a := newAdapter(api, nil, time.Second)

	items, err := a.ScanAll(context.Background(), &dynamodb.ScanInput{TableName: aws.String("members")})
	if err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if len(items) != 4 || api.scans != 3 {
		t.Fatalf("got %d items over %d scans", len(items), api.scans)
	}
	for i, ok := range api.deadlines {
		if !ok {
			t.Fatalf("scan %d ran without the operation timeout", i)
		}
	}
}

func TestAdapter_Closed(t *testing.T) {
	api := &fakeAPI{}
	a := newAdapter(api, nil, time.Second)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	errs := map[string]error{"health": a.HealthCheck(ctx)}
	_, errs["scan"] = a.ScanAll(ctx, &dynamodb.ScanInput{})
	_, errs["get"] = a.GetItem(ctx, &dynamodb.GetItemInput{})
	_, errs["put"] = a.PutItem(ctx, &dynamodb.PutItemInput{})
	_, errs["update"] = a.UpdateItem(ctx, &dynamodb.UpdateItemInput{})
	_, errs["delete"] = a.DeleteItem(ctx, &dynamodb.DeleteItemInput{})
	for name, err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s error = %v, want ErrClosed", name, err)
		}
	}
	if api.scans != 0 {
		t.Fatal("closed adapter reached the API")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	api := &fakeAPI{}
	a := newAdapter(api, nil, time.Second)
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	api.listErr = errors.New("AccessDenied")
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected list tables failure")
	}
}

func TestBegin_PreservesCallerDeadline(t *testing.T) {
	a := newAdapter(&fakeAPI{}, nil, 2*time.Second)
	parent, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ctx, done, err := a.begin(parent)
	if err != nil {
		t.Fatal(err)
	}
	defer done()
	want, _ := parent.Deadline()
	if got, _ := ctx.Deadline(); !got.Equal(want) {
		t.Fatalf("deadline = %v, want %v", got, want)
	}
}

func TestIsConditionFailed(t *testing.T) {
	a := newAdapter(&fakeAPI{}, nil, time.Second)
	_, err := a.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{})
	if !IsConditionFailed(err) {
		t.Fatalf("IsConditionFailed(%v) = false", err)
	}
	if IsConditionFailed(nil) || IsConditionFailed(errors.New("x")) {
		t.Fatal("unrelated errors must not match")
	}
}
