// Package mongodb owns the MongoDB client behind the privileged document
// store. Documents are addressed by a string _id.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nimburion/docops/pkg/observability/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("mongodb: adapter is closed")

const (
	defaultConnectTimeout   = 5 * time.Second
	defaultOperationTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
	disconnectTimeout       = 5 * time.Second
)

// Config configures NewAdapter.
type Config struct {
	URL      string
	Database string
	AppName  string

	ConnectTimeout time.Duration
	// OperationTimeout bounds calls whose context has no deadline.
	OperationTimeout time.Duration
}

func (c Config) validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("mongodb: URL is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("mongodb: database is required"))
	}
	return errors.Join(errs...)
}

// Adapter is a connected database handle.
type Adapter struct {
	client    *mongo.Client
	db        *mongo.Database
	log       logger.Logger
	opTimeout time.Duration
	closed    atomic.Bool
}

// NewAdapter connects and pings the primary. Collections and indexes are
// left to the operator.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URL).SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	log.Info("mongodb connected", "database", cfg.Database)
	return newAdapter(client, cfg.Database, log, cfg.OperationTimeout), nil
}

func newAdapter(client *mongo.Client, database string, log logger.Logger, opTimeout time.Duration) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	a := &Adapter{client: client, log: log, opTimeout: opTimeout}
	if client != nil {
		a.db = client.Database(database)
	}
	return a
}

// Database returns the configured database.
func (a *Adapter) Database() *mongo.Database {
	return a.db
}

// HealthCheck pings the primary.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.client.Ping(ctx, readpref.Primary()); err != nil {
		a.log.WithContext(ctx).Warn("mongodb health check failed", "error", err)
		return fmt.Errorf("mongodb: ping: %w", err)
	}
	return nil
}

// Close disconnects once. Later calls return nil.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongodb: disconnect: %w", err)
	}
	return nil
}

// ByID is the filter selecting document id.
func ByID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// Find drains the cursor of filter over collection. A zero limit means no limit.
func (a *Adapter) Find(ctx context.Context, collection string, filter, sort bson.D, limit int64) ([]bson.M, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := a.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	docs := []bson.M{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// FindByID returns document id, or mongo.ErrNoDocuments.
func (a *Adapter) FindByID(ctx context.Context, collection, id string) (bson.M, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	doc := bson.M{}
	if err := a.db.Collection(collection).FindOne(ctx, ByID(id)).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Replace upserts doc as document id. Non-empty stamp is applied as a
// follow-up update, typically $currentDate.
func (a *Adapter) Replace(ctx context.Context, collection, id string, doc bson.M, stamp bson.D) error {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	coll := a.db.Collection(collection)
	doc["_id"] = id
	if _, err := coll.ReplaceOne(ctx, ByID(id), doc, options.Replace().SetUpsert(true)); err != nil {
		return err
	}
	if len(stamp) == 0 {
		return nil
	}
	_, err = coll.UpdateOne(ctx, ByID(id), stamp)
	return err
}

// Patch applies update to document id and reports whether it exists.
func (a *Adapter) Patch(ctx context.Context, collection, id string, update bson.D) (bool, error) {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	res, err := a.db.Collection(collection).UpdateOne(ctx, ByID(id), update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// Remove deletes document id. A missing document is not an error.
func (a *Adapter) Remove(ctx context.Context, collection, id string) error {
	ctx, cancel, err := a.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = a.db.Collection(collection).DeleteOne(ctx, ByID(id))
	return err
}

// begin fails after Close and applies the operation timeout when ctx has
// no deadline of its own.
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
