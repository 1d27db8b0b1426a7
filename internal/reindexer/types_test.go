package reindexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_HappyPath(t *testing.T) {
	p := NewProgress()
	assert.Equal(t, StatePending, p.State)

	start := time.UnixMilli(1000)
	require.NoError(t, p.Start(start))
	assert.Equal(t, StateRunning, p.State)
	assert.Equal(t, int64(1000), p.StartedAt.UnixMilli())
	assert.Nil(t, p.EndedAt)

	require.NoError(t, p.Advance("c1"))
	assert.Equal(t, "c1", p.Cursor)

	// resuming a running record keeps its start
	require.NoError(t, p.Start(time.UnixMilli(5000)))
	assert.Equal(t, int64(1000), p.StartedAt.UnixMilli())

	require.NoError(t, p.Succeed(time.UnixMilli(2000)))
	assert.Equal(t, StateSuccessful, p.State)
	assert.Equal(t, int64(2000), p.EndedAt.UnixMilli())
	assert.Empty(t, p.Cursor)
}

func TestProgress_Fail(t *testing.T) {
	p := NewProgress()
	require.NoError(t, p.Start(time.UnixMilli(0)))
	require.NoError(t, p.Fail(time.UnixMilli(10), "boom"))

	assert.Equal(t, StateFailed, p.State)
	require.NotNil(t, p.Message)
	assert.Equal(t, "boom", *p.Message)
	assert.Equal(t, int64(10), p.EndedAt.UnixMilli())
}

func TestProgress_InvalidTransitions(t *testing.T) {
	pending := NewProgress()
	assert.ErrorIs(t, pending.Advance("x"), ErrInvalidTransition)
	assert.ErrorIs(t, pending.Succeed(time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, pending.Fail(time.Now(), "x"), ErrInvalidTransition)

	done := NewProgress()
	require.NoError(t, done.Start(time.Now()))
	require.NoError(t, done.Succeed(time.Now()))
	assert.ErrorIs(t, done.Start(time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, done.Advance("x"), ErrInvalidTransition)
	assert.ErrorIs(t, done.Fail(time.Now(), "x"), ErrInvalidTransition)

	failed := NewProgress()
	require.NoError(t, failed.Start(time.Now()))
	require.NoError(t, failed.Fail(time.Now(), "x"))
	assert.ErrorIs(t, failed.Start(time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, failed.Succeed(time.Now()), ErrInvalidTransition)
}

func TestProgress_ResetAndStaleness(t *testing.T) {
	p := NewProgress()
	assert.False(t, p.StaleFor(time.UnixMilli(100)))

	require.NoError(t, p.Start(time.UnixMilli(100)))
	require.NoError(t, p.Succeed(time.UnixMilli(200)))

	assert.False(t, p.StaleFor(time.UnixMilli(50)))
	assert.False(t, p.StaleFor(time.UnixMilli(100)))
	assert.True(t, p.StaleFor(time.UnixMilli(101)))

	p.Reset()
	assert.Equal(t, StatePending, p.State)
	assert.Nil(t, p.StartedAt)
	assert.Nil(t, p.EndedAt)
	require.NoError(t, p.Start(time.UnixMilli(300)))
}

func TestProgressState(t *testing.T) {
	assert.True(t, StateSuccessful.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.True(t, StatePending.Valid())
	assert.False(t, ProgressState("DONE").Valid())
}

func TestReadyMap_Ordered(t *testing.T) {
	m := readyAt(map[string]int64{"a": 100, "b": 50, "c": 100, "future": 10_000})

	got := m.ordered(time.UnixMilli(1000))
	var names []string
	for _, rt := range got {
		names = append(names, rt.typ.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)

	assert.Len(t, m.ordered(time.UnixMilli(10_000)), 4)
	assert.Empty(t, m.ordered(time.UnixMilli(49)))
}

func TestCluster_BucketSpaceOf(t *testing.T) {
	c := testCluster("music")
	space, ok := c.BucketSpaceOf(DocumentType{Name: "music"})
	assert.True(t, ok)
	assert.Equal(t, "default", space)

	_, ok = c.BucketSpaceOf(DocumentType{Name: "books"})
	assert.False(t, ok)
}
