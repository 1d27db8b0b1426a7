package visitor

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/reindexer/internal/visitor/config"
)

// Sink receives re-fed documents.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// JetStream is the subset of jetstream.JetStream the sink uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamSink publishes documents to a JetStream stream.
type JetStreamSink struct {
	js  JetStream
	cfg config.NATSConfig
}

var _ Sink = (*JetStreamSink)(nil)

// NewJetStreamSink ensures the re-feed stream exists and returns a sink
// publishing to it.
func NewJetStreamSink(ctx context.Context, js JetStream, cfg config.NATSConfig) (*JetStreamSink, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "documents re-fed by the reindexing maintainer",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return &JetStreamSink{js: js, cfg: cfg}, nil
}

// Subject returns the subject documents of typ in cluster are published to.
func Subject(prefix, cluster, typ string) string {
	return prefix + "." + cluster + "." + typ
}

// Publish implements Sink.
func (s *JetStreamSink) Publish(ctx context.Context, subject string, data []byte) error {
	var opts []jetstream.PublishOpt
	if s.cfg.RetryAttempts > 0 {
		opts = append(opts, jetstream.WithRetryAttempts(s.cfg.RetryAttempts))
	}
	if _, err := s.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
