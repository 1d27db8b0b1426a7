// Package visitor implements the reindexing worker: it walks each document
// type's collection in _id order and re-feeds selected documents to a
// JetStream stream, one batch per call.
package visitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/syntrixbase/reindexer/internal/reindexer"
	rconfig "github.com/syntrixbase/reindexer/internal/reindexer/config"
)

// Message is the payload published for each re-fed document.
type Message struct {
	Cluster  string          `json:"cluster"`
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Document json.RawMessage `json:"document"`
}

// Options configures a Visitor.
type Options struct {
	Cluster       string
	Types         map[string]rconfig.DocumentTypeConfig
	BatchSize     int
	SubjectPrefix string
	Source        Source
	Sink          Sink
	Logger        *slog.Logger
}

type documentType struct {
	collection string
	selector   *Selector
	// selectErr keeps a bad selection from failing every other type.
	selectErr error
}

// Visitor is a reindexer.Worker over a document source and a re-feed sink.
type Visitor struct {
	cluster   string
	types     map[string]documentType
	batchSize int
	prefix    string
	source    Source
	sink      Sink
	logger    *slog.Logger
}

var _ reindexer.Worker = (*Visitor)(nil)

// New creates a visitor. Selections that do not compile are reported as
// failures of their type when it is reindexed.
func New(opts Options) (*Visitor, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("document source is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "visitor", "cluster", opts.Cluster)

	types := make(map[string]documentType, len(opts.Types))
	names := make([]string, 0, len(opts.Types))
	for name := range opts.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tc := opts.Types[name]
		dt := documentType{collection: tc.Collection}
		if dt.collection == "" {
			dt.collection = name
		}
		dt.selector, dt.selectErr = NewSelector(tc.Selection)
		if dt.selectErr != nil {
			logger.Warn("invalid document selection", "type", name, "selection", tc.Selection, "error", dt.selectErr)
		}
		types[name] = dt
	}

	return &Visitor{
		cluster:   opts.Cluster,
		types:     types,
		batchSize: opts.BatchSize,
		prefix:    opts.SubjectPrefix,
		source:    opts.Source,
		sink:      opts.Sink,
		logger:    logger,
	}, nil
}

// Reindex implements reindexer.Worker. It re-feeds one batch after cursor.
func (v *Visitor) Reindex(ctx context.Context, typ reindexer.DocumentType, cursor string) (reindexer.Outcome, error) {
	if ctx.Err() != nil {
		return reindexer.Interrupted(cursor), nil
	}

	dt, ok := v.types[typ.Name]
	if !ok {
		return reindexer.Failed(fmt.Sprintf("no collection configured for document type %s", typ.Name)), nil
	}
	if dt.selectErr != nil {
		return reindexer.Failed(fmt.Sprintf("invalid selection: %v", dt.selectErr)), nil
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return reindexer.Failed(fmt.Sprintf("invalid cursor: %v", err)), nil
	}

	docs, err := v.source.Batch(ctx, dt.collection, after, v.batchSize)
	if err != nil {
		return reindexer.Outcome{}, err
	}
	if len(docs) == 0 {
		return reindexer.Done(), nil
	}

	subject := Subject(v.prefix, v.cluster, typ.Name)
	last := cursor
	published := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			return reindexer.Interrupted(last), nil
		}
		id, err := EncodeCursor(doc.ID)
		if err != nil {
			return reindexer.Failed(fmt.Sprintf("document in %s: %v", dt.collection, err)), nil
		}
		match, err := dt.selector.Match(map[string]any(doc.Fields))
		if err != nil {
			return reindexer.Failed(fmt.Sprintf("selection on %s: %v", id, err)), nil
		}
		if match {
			data, err := v.encode(typ.Name, id, doc)
			if err != nil {
				return reindexer.Failed(fmt.Sprintf("encoding %s: %v", id, err)), nil
			}
			if err := v.sink.Publish(ctx, subject, data); err != nil {
				return reindexer.Outcome{}, err
			}
			published++
		}
		last = id
	}

	DocumentsVisited.WithLabelValues(typ.Name).Add(float64(len(docs)))
	DocumentsPublished.WithLabelValues(typ.Name).Add(float64(published))
	v.logger.Debug("batch re-fed", "type", typ.Name, "visited", len(docs), "published", published, "cursor", last)
	return reindexer.Progressed(last), nil
}

func (v *Visitor) encode(typ, id string, doc Document) ([]byte, error) {
	body, err := bson.MarshalExtJSON(doc.Fields, false, false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Cluster:  v.cluster,
		Type:     typ,
		ID:       id,
		Document: body,
	})
}
