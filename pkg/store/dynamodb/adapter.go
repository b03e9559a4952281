// Package dynamodb owns the DynamoDB client behind the table-per-collection
// document store.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nimburion/docops/pkg/observability/logger"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("dynamodb: adapter is closed")

const (
	defaultOperationTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

// API is the part of *dynamodb.Client the adapter calls.
type API interface {
	dynamodb.ScanAPIClient
	dynamodb.ListTablesAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config configures NewAdapter. Static credentials are used only when a key
// is set; otherwise the default AWS credential chain applies.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// MaxAttempts overrides the SDK retry budget when positive.
	MaxAttempts      int
	OperationTimeout time.Duration
}

// Adapter wraps the client with per-call timeouts and a closed state.
type Adapter struct {
	api       API
	log       logger.Logger
	opTimeout time.Duration
	closed    atomic.Bool
}

// NewAdapter loads the AWS configuration, honouring Endpoint for local
// emulators, and lists one table to prove the credentials work.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, errors.New("dynamodb: aws region is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}

	load := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		load = append(load, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.MaxAttempts > 0 {
		load = append(load, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), load...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	a := newAdapter(client, log, cfg.OperationTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		return nil, err
	}
	a.log.Info("dynamodb connected", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return a, nil
}

func newAdapter(api API, log logger.Logger, opTimeout time.Duration) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{api: api, log: log, opTimeout: opTimeout}
}

func (a *Adapter) ping(ctx context.Context) error {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := a.api.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)}); err != nil {
		return fmt.Errorf("dynamodb: list tables: %w", err)
	}
	return nil
}

// HealthCheck lists one table.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		if !errors.Is(err, ErrClosed) {
			a.log.WithContext(ctx).Warn("dynamodb health check failed", "error", err)
		}
		return err
	}
	return nil
}

// Close marks the adapter closed. The SDK client holds no connection to
// release.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return nil
}

func (a *Adapter) PutItem(ctx context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return a.api.PutItem(ctx, in)
}

func (a *Adapter) GetItem(ctx context.Context, in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return a.api.GetItem(ctx, in)
}

func (a *Adapter) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return a.api.UpdateItem(ctx, in)
}

func (a *Adapter) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return a.api.DeleteItem(ctx, in)
}

// ScanAll follows every page of in and returns the items passing its filter.
// One operation timeout covers the whole scan.
func (a *Adapter) ScanAll(ctx context.Context, in *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var items []map[string]types.AttributeValue
	pages := dynamodb.NewScanPaginator(a.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (a *Adapter) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if a.closed.Load() {
		return nil, nil, ErrClosed
	}
	if _, ok := ctx.Deadline(); ok || a.opTimeout <= 0 {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	return ctx, cancel, nil
}

// IsConditionFailed reports whether a conditional write was rejected.
func IsConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
