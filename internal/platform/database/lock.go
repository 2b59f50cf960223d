package database

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LockID は文字列キーからアドバイザリロックIDを生成する。
// 同じキーの組は常に同じIDになる。
func LockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)

	var id int64
	for i := range 8 {
		id = (id << 8) | int64(sum[i])
	}
	return id
}

// AcquireLock はトランザクションスコープのPostgreSQLアドバイザリロックを取得する
// （pg_advisory_xact_lock）。トランザクション終了時に自動的に解放されるため、
// 明示的な解放は不要。
func AcquireLock(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
