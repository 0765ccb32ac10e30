package postgres

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/AmanBhanse/agathon-backend/internal/core/search"
)

func TestConverters(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, PgtypeToUUID(UUIDToPgtype(id)))
	assert.True(t, UUIDToPgtype(id).Valid)

	now := time.Now()
	assert.Equal(t, now, TimeToPgtype(now).Time)

	assert.Equal(t, []int32{1, 2, 5}, PagesToInt32([]int{1, 2, 5}))
	assert.Empty(t, PagesToInt32(nil))
}

func TestConnectionParams_ConnString(t *testing.T) {
	p := ConnectionParams{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "rag", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=rag sslmode=disable", p.ConnString())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, clamp(1.0000001))
	assert.Equal(t, -1.0, clamp(-1.5))
	assert.Equal(t, 0.0, clamp(math.NaN()))
	assert.Equal(t, 0.25, clamp(0.25))
}

func TestIsZero(t *testing.T) {
	assert.True(t, isZero([]float32{0, 0}))
	assert.True(t, isZero(nil))
	assert.False(t, isZero([]float32{0, 1e-9}))
}

// データベースに到達する前に検証されるエラー
func TestSearcher_ValidatesBeforeQuery(t *testing.T) {
	s := &Searcher{dimension: 3, count: 2}

	_, err := s.Search(context.Background(), []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, search.ErrInvalidTopK)

	_, err = s.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, search.ErrDimensionMismatch)

	empty := &Searcher{dimension: 0, count: 0}
	hits, err := empty.Search(context.Background(), []float32{1, 0}, 3)
	assert.NoError(t, err)
	assert.Empty(t, hits)

	assert.Equal(t, StrategyPgvector, s.Strategy())
}

func TestLockID(t *testing.T) {
	assert.Equal(t, LockID("agathon-rag", "mirror"), mirrorLockID)
	assert.NotEqual(t, LockID("ab", "c"), LockID("a", "bc"))
	assert.NotEqual(t, LockID("a"), LockID("b"))
}
