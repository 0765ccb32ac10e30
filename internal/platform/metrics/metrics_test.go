package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIndex(t *testing.T) {
	m := New()

	m.ObserveIndex(10, 2, 3*time.Second)
	m.ObserveIndex(5, 0, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexRuns))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.ChunksIndexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmbeddingFailures))
}

func TestObserveQuery(t *testing.T) {
	m := New()

	m.ObserveQuery("answered", 100*time.Millisecond)
	m.ObserveQuery("answered", 200*time.Millisecond)
	m.ObserveQuery("no_relevant_context", 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Queries.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("no_relevant_context")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryDuration))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.ObserveQuery("answered", time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Queries.WithLabelValues("answered")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveIndex(3, 1, time.Second)

	path := filepath.Join(t.TempDir(), "rag.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rag_chunks_indexed_total 3")
	assert.Contains(t, string(data), "rag_embedding_failures_total 1")
}

func TestWriteTextfile_EmptyPath(t *testing.T) {
	assert.NoError(t, New().WriteTextfile(""))
}
