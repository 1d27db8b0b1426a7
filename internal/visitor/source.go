package visitor

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Document is one stored document as read from the source.
type Document struct {
	ID     any
	Fields bson.M
}

// Source reads documents of a collection in _id order.
type Source interface {
	// Batch returns up to limit documents with _id greater than after in
	// BSON comparison order, or from the start when after is nil.
	Batch(ctx context.Context, collection string, after any, limit int) ([]Document, error)
}

// MongoSource reads documents from a MongoDB database.
type MongoSource struct {
	db      *mongo.Database
	timeout time.Duration
}

var _ Source = (*MongoSource)(nil)

// NewMongoSource creates a source over db. Each batch query is bounded by timeout.
func NewMongoSource(db *mongo.Database, timeout time.Duration) *MongoSource {
	return &MongoSource{db: db, timeout: timeout}
}

// Batch implements Source.
func (s *MongoSource) Batch(ctx context.Context, collection string, after any, limit int) ([]Document, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// A plain {_id: {$gt: after}} only matches ids of the same BSON type,
	// so a collection with mixed id types would end at the first type
	// boundary. $expr compares in full BSON order, matching the sort.
	filter := bson.M{}
	if after != nil {
		filter["$expr"] = bson.M{"$gt": bson.A{"$_id", after}}
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(collection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, Document{ID: m["_id"], Fields: m})
	}
	return docs, nil
}
