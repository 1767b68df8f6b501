package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultCollection = "run_step_records"
	defaultTimeout    = 5 * time.Second
)

// recordDocument is the BSON shape persisted per Record; ID is assigned by
// Mongo and otherwise unused by the core.
type recordDocument struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	RunID       string        `bson:"run_id"`
	StepIndex   int           `bson:"step_index"`
	ContentType string        `bson:"content_type"`
	Tool        string        `bson:"tool"`
	MCPName     string        `bson:"mcp_name,omitempty"`
	Payload     []byte        `bson:"payload"`
	Timestamp   time.Time     `bson:"timestamp"`
}

// MongoRepository is the reference Repository backed by MongoDB. Writes are
// idempotent: an existing document for the same (run_id, step_index,
// content_type) is replaced rather than duplicated via upsert.
type MongoRepository struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// MongoOptions configures MongoRepository.
type MongoOptions struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewMongoRepository wires a Repository to the given MongoDB client,
// ensuring the uniqueness index that makes Write idempotent.
func NewMongoRepository(ctx context.Context, opts MongoOptions) (*MongoRepository, error) {
	if opts.Client == nil {
		return nil, errors.New("persistence: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("persistence: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)

	indexCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := coll.Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "step_index", Value: 1}, {Key: "content_type", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: ensure index: %w", err)
	}

	return &MongoRepository{coll: coll, timeout: timeout}, nil
}

// Write upserts rec keyed on (RunID, StepIndex, ContentType), so a
// re-delivered write replaces rather than duplicates the prior record.
func (r *MongoRepository) Write(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("persistence: run id is required")
	}
	if rec.ContentType == "" {
		return errors.New("persistence: content type is required")
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc := recordDocument{
		RunID:       rec.RunID,
		StepIndex:   rec.StepIndex,
		ContentType: string(rec.ContentType),
		Tool:        rec.Tool,
		MCPName:     rec.MCPName,
		Payload:     append([]byte(nil), rec.Payload...),
		Timestamp:   rec.Timestamp.UTC(),
	}
	filter := bson.D{
		{Key: "run_id", Value: rec.RunID},
		{Key: "step_index", Value: rec.StepIndex},
		{Key: "content_type", Value: string(rec.ContentType)},
	}
	_, err := r.coll.ReplaceOne(writeCtx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("persistence: write record: %w", err)
	}
	return nil
}
