package reindexer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/reindexer/internal/coordination/memory"
	"github.com/syntrixbase/reindexer/internal/reindexer/config"
)

const testTenant = "t1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCluster(types ...string) Cluster {
	c := Cluster{Name: "content", ConfigID: "content/distributor", BucketSpaces: make(map[DocumentType]string)}
	for _, name := range types {
		c.BucketSpaces[DocumentType{Name: name}] = "default"
	}
	return c
}

func readyAt(entries map[string]int64) ReadyMap {
	m := make(ReadyMap, len(entries))
	for name, ms := range entries {
		m[DocumentType{Name: name}] = time.UnixMilli(ms).UTC()
	}
	return m
}

func testConfig(ready map[string]int64, types ...string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Enabled = true
	cfg.Tenant = testTenant
	cfg.ClusterName = "content"
	cfg.Hostname = "h1"
	cfg.PeerHostnames = "h1"
	cfg.BaseInterval = time.Minute
	cfg.GracePeriod = time.Second
	cfg.LockTimeout = 0
	cfg.Ready = ready
	cfg.Clusters = map[string]config.ClusterConfig{"content": {ConfigID: "content/distributor", DocumentTypes: map[string]string{}}}
	cfg.DocumentTypes = map[string]config.DocumentTypeConfig{}
	for _, name := range types {
		cfg.Clusters["content"].DocumentTypes[name] = "default"
		cfg.DocumentTypes[name] = config.DocumentTypeConfig{Collection: name}
	}
	return cfg
}

type workerCall struct {
	Type   string
	Cursor string
}

// recordingWorker records calls and answers from a script.
type recordingWorker struct {
	mu     sync.Mutex
	calls  []workerCall
	answer func(ctx context.Context, typ string, cursor string) (Outcome, error)
}

func (w *recordingWorker) Reindex(ctx context.Context, typ DocumentType, cursor string) (Outcome, error) {
	w.mu.Lock()
	w.calls = append(w.calls, workerCall{Type: typ.Name, Cursor: cursor})
	w.mu.Unlock()
	return w.answer(ctx, typ.Name, cursor)
}

func (w *recordingWorker) Calls() []workerCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workerCall(nil), w.calls...)
}

func doneWorker() *recordingWorker {
	return &recordingWorker{answer: func(context.Context, string, string) (Outcome, error) {
		return Done(), nil
	}}
}

func persisted(t *testing.T, store *memory.Store) *State {
	t.Helper()
	data, ok, err := store.Read(context.Background(), StateKey(testTenant))
	require.NoError(t, err)
	require.True(t, ok, "no state persisted")
	state, err := DecodeState(data)
	require.NoError(t, err)
	return state
}

func seed(t *testing.T, store *memory.Store, state *State) {
	t.Helper()
	data, err := state.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), StateKey(testTenant), data))
}

func running(startedMs int64, cursor string) *Progress {
	p := NewProgress()
	_ = p.Start(time.UnixMilli(startedMs))
	_ = p.Advance(cursor)
	return p
}
