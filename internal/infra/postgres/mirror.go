package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/AmanBhanse/agathon-backend/internal/core/store"
)

// MirrorInfo はミラーされているストアのメタデータ
type MirrorInfo struct {
	BuildID    uuid.UUID
	ModelID    string
	Dimension  int
	Count      int
	CreatedAt  time.Time
	MirroredAt time.Time
}

// Mirror はファイルストアの内容を PostgreSQL（pgvector）に複製する
type Mirror struct {
	db     *DB
	logger *slog.Logger
}

// NewMirror は新しい Mirror を作成する
func NewMirror(db *DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger}
}

// Replace はミラーの内容を 1 トランザクションでストアの内容に置き換える
func (m *Mirror) Replace(ctx context.Context, s *store.Store) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to mirror invalid store: %w", err)
	}

	copied, err := Transact(ctx, m.db, func(tx pgx.Tx) (int64, error) {
		if err := acquireXactLock(ctx, tx, mirrorLockID); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, deleteChunksSQL); err != nil {
			return 0, fmt.Errorf("failed to clear chunks: %w", err)
		}
		if _, err := tx.Exec(ctx, deleteMetaSQL); err != nil {
			return 0, fmt.Errorf("failed to clear store metadata: %w", err)
		}

		rows := make([][]any, s.Len())
		for i := range s.Len() {
			c := s.Chunk(i)
			rows[i] = []any{
				int32(c.ID()),
				c.Text(),
				int32(c.Start()),
				int32(c.End()),
				PagesToInt32(c.Pages()),
				pgvector.NewVector(s.Vector(i)),
			}
		}
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"rag_chunks"},
			[]string{"id", "content", "start_offset", "end_offset", "pages", "embedding"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to copy chunks: %w", err)
		}

		if _, err := tx.Exec(ctx, insertMetaSQL,
			UUIDToPgtype(s.BuildID()),
			s.ModelID(),
			int32(s.Dimension()),
			int32(s.Len()),
			TimeToPgtype(s.CreatedAt()),
		); err != nil {
			return 0, fmt.Errorf("failed to insert store metadata: %w", err)
		}
		return n, nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("store mirrored to postgres",
		"buildID", s.BuildID().String(),
		"chunks", copied,
	)
	return nil
}

// Info はミラーされているストアのメタデータを返す。未ミラーの場合は None
func (m *Mirror) Info(ctx context.Context) (mo.Option[MirrorInfo], error) {
	var (
		buildID    pgtype.UUID
		info       MirrorInfo
		dimension  int32
		count      int32
		createdAt  pgtype.Timestamptz
		mirroredAt pgtype.Timestamptz
	)
	err := m.db.Pool.QueryRow(ctx, selectMetaSQL).Scan(&buildID, &info.ModelID, &dimension, &count, &createdAt, &mirroredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[MirrorInfo](), nil
		}
		return mo.None[MirrorInfo](), fmt.Errorf("failed to read store metadata: %w", err)
	}

	info.BuildID = PgtypeToUUID(buildID)
	info.Dimension = int(dimension)
	info.Count = int(count)
	info.CreatedAt = createdAt.Time
	info.MirroredAt = mirroredAt.Time
	return mo.Some(info), nil
}

// Matches はミラーが指定のストアと同じ版かを返す
func (m *Mirror) Matches(ctx context.Context, s *store.Store) (bool, error) {
	info, err := m.Info(ctx)
	if err != nil {
		return false, err
	}
	got, ok := info.Get()
	if !ok {
		return false, nil
	}
	return got.BuildID == s.BuildID() && got.Count == s.Len() && got.Dimension == s.Dimension(), nil
}
