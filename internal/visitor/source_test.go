package visitor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/reindexer/internal/visitor/config"
)

var (
	testMongoURI = "mongodb://localhost:27017"
	globalClient *mongo.Client
	clientOnce   sync.Once
)

func init() {
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		testMongoURI = uri
	}
}

func getTestClient(t *testing.T) *mongo.Client {
	clientOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(testMongoURI))
		if err != nil {
			return
		}
		if err := client.Ping(ctx, nil); err != nil {
			return
		}
		globalClient = client
	})
	if globalClient == nil {
		t.Skip("Skipping test: MongoDB not available")
	}
	return globalClient
}

func TestMongoSource_Integration(t *testing.T) {
	client := getTestClient(t)
	ctx := context.Background()
	db := client.Database("reindexer_visitor_test")
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	coll := db.Collection("tracks")
	_ = coll.Drop(ctx)
	var ids []primitive.ObjectID
	for i := 0; i < 5; i++ {
		id := primitive.NewObjectID()
		ids = append(ids, id)
		_, err := coll.InsertOne(ctx, bson.M{"_id": id, "n": i})
		require.NoError(t, err)
	}

	src := NewMongoSource(db, 5*time.Second)

	first, err := src.Batch(ctx, "tracks", nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].ID)
	assert.Equal(t, ids[1], first[1].ID)

	// resume through the cursor encoding, as the worker does
	cursor, err := EncodeCursor(first[1].ID)
	require.NoError(t, err)
	after, err := DecodeCursor(cursor)
	require.NoError(t, err)

	rest, err := src.Batch(ctx, "tracks", after, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, ids[2], rest[0].ID)
	assert.EqualValues(t, 4, rest[2].Fields["n"])

	empty, err := src.Batch(ctx, "missing", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMongoSource_MixedIDTypes(t *testing.T) {
	client := getTestClient(t)
	ctx := context.Background()
	db := client.Database("reindexer_visitor_test")
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	coll := db.Collection("mixed")
	_ = coll.Drop(ctx)
	oid := primitive.NewObjectID()
	for _, id := range []any{oid, "b", int64(7), "a"} {
		_, err := coll.InsertOne(ctx, bson.M{"_id": id})
		require.NoError(t, err)
	}

	src := NewMongoSource(db, 5*time.Second)

	var seen []any
	var after any
	for i := 0; i < 5; i++ {
		batch, err := src.Batch(ctx, "mixed", after, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, d := range batch {
			seen = append(seen, d.ID)
		}
		cursor, err := EncodeCursor(batch[len(batch)-1].ID)
		require.NoError(t, err)
		after, err = DecodeCursor(cursor)
		require.NoError(t, err)
	}
	assert.Equal(t, []any{int64(7), "a", "b", oid}, seen)
}

func TestConnect_MongoFailure(t *testing.T) {
	orig := mongoConnect
	defer func() { mongoConnect = orig }()
	mongoConnect = func(context.Context, string) (*mongo.Client, error) {
		return nil, errors.New("no reachable servers")
	}

	_, err := Connect(context.Background(), config.DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document source")
}

func TestConnect_NATSFailureClosesSource(t *testing.T) {
	origMongo, origNats := mongoConnect, natsConnect
	defer func() { mongoConnect, natsConnect = origMongo, origNats }()

	client, err := mongo.NewClient(options.Client().ApplyURI("mongodb://localhost:1"))
	require.NoError(t, err)
	mongoConnect = func(context.Context, string) (*mongo.Client, error) { return client, nil }
	natsConnect = func(string) (*nats.Conn, error) { return nil, errors.New("connection refused") }

	_, err = Connect(context.Background(), config.DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS")
}
