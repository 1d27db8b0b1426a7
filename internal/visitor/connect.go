package visitor

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/syntrixbase/reindexer/internal/visitor/config"
)

// Injectable for tests.
var (
	mongoConnect = func(ctx context.Context, uri string) (*mongo.Client, error) {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return client, nil
	}
	natsConnect = func(url string) (*nats.Conn, error) {
		return nats.Connect(url, nats.Name("reindexer-visitor"))
	}
	jetStreamNew = func(nc *nats.Conn) (JetStream, error) {
		return jetstream.New(nc)
	}
)

// Connections holds the live source and sink of a visitor.
type Connections struct {
	Source *MongoSource
	Sink   *JetStreamSink

	mongo *mongo.Client
	nats  *nats.Conn
}

// Connect opens the document source and the re-feed sink.
func Connect(ctx context.Context, cfg config.Config) (*Connections, error) {
	client, err := mongoConnect(ctx, cfg.Source.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document source: %w", err)
	}
	conns := &Connections{
		Source: NewMongoSource(client.Database(cfg.Source.DatabaseName), cfg.Source.QueryTimeout),
		mongo:  client,
	}

	nc, err := natsConnect(cfg.Sink.URL)
	if err != nil {
		conns.Close(ctx)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	conns.nats = nc

	js, err := jetStreamNew(nc)
	if err != nil {
		conns.Close(ctx)
		return nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	sink, err := NewJetStreamSink(ctx, js, cfg.Sink)
	if err != nil {
		conns.Close(ctx)
		return nil, err
	}
	conns.Sink = sink
	return conns, nil
}

// Close disconnects from the source and the sink.
func (c *Connections) Close(ctx context.Context) error {
	var firstErr error
	if c.nats != nil {
		c.nats.Close()
	}
	if c.mongo != nil {
		if err := c.mongo.Disconnect(ctx); err != nil {
			firstErr = err
		}
	}
	return firstErr
}
