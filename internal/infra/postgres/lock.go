package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// mirrorLockID はミラー書き換えを直列化するアドバイザリロックの ID
var mirrorLockID = LockID("agathon-rag", "mirror")

// LockID は文字列から PostgreSQL アドバイザリロックの ID を生成する
func LockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// acquireXactLock はトランザクションスコープのアドバイザリロックを取得する
// ロックはトランザクション終了時に解放される
func acquireXactLock(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
