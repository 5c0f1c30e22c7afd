// Package mongo provides the MongoDB implementation of the gateway call
// audit trail. The trail is append-only: records are inserted once and never
// updated or deleted.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marketplace-escrow/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the gateway call audit collection
	AuditCollectionName = "gateway_call_audit"
)

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB gateway call audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) audit.Repository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends one gateway attempt record. There is no duplicate check:
// every attempt, including retries under the same idempotency key, gets its
// own record.
func (r *AuditRepository) Create(ctx context.Context, record *audit.Record) error {
	collection := r.db.Collection(AuditCollectionName)

	_, err := collection.InsertOne(ctx, record)
	if err != nil {
		r.logger.Error("Failed to create gateway audit record",
			"operation", record.Operation,
			"attempt", record.Attempt,
			"error", err)
		return fmt.Errorf("failed to create gateway audit record: %w", err)
	}

	return nil
}

// GetByIdempotencyKey retrieves every attempt recorded for one logical call,
// in attempt order. Used when reconciling an ambiguous charge outcome.
func (r *AuditRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) ([]*audit.Record, error) {
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key cannot be empty")
	}

	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"idempotency_key": idempotencyKey}
	opts := options.Find().SetSort(bson.M{"attempt": 1})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get gateway audit records",
			"idempotency_key", idempotencyKey,
			"error", err)
		return nil, fmt.Errorf("failed to get gateway audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*audit.Record
	if err := cursor.All(ctx, &records); err != nil {
		r.logger.Error("Failed to decode gateway audit records",
			"idempotency_key", idempotencyKey,
			"error", err)
		return nil, fmt.Errorf("failed to decode gateway audit records: %w", err)
	}

	return records, nil
}

// GetByTimeRange retrieves paginated audit records within the specified time
// window, newest first.
func (r *AuditRepository) GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*audit.Record, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{
		"created_at": bson.M{
			"$gte": startTime,
			"$lte": endTime,
		},
	}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get gateway audit records by time range",
			"start_time", startTime,
			"end_time", endTime,
			"error", err)
		return nil, fmt.Errorf("failed to get gateway audit records by time range: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*audit.Record
	if err := cursor.All(ctx, &records); err != nil {
		r.logger.Error("Failed to decode gateway audit records",
			"start_time", startTime,
			"end_time", endTime,
			"error", err)
		return nil, fmt.Errorf("failed to decode gateway audit records: %w", err)
	}

	return records, nil
}
