package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/nao1215/notifystream/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// nullPayload はペイロード未指定時に保存する値。
var nullPayload = json.RawMessage("null")

// SQLite はSQLiteをバックエンドとする通知ストア。
type SQLite struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は作成日時の取得に使用する時計。テストで差し替える。
	now func() time.Time
}

var (
	_ Store  = (*SQLite)(nil)
	_ Pruner = (*SQLite)(nil)
)

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
// dsnの例: "file:/data/notifications.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
func OpenSQLite(ctx context.Context, dsn string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	// インメモリDBは接続ごとに別のDBになるため、接続を1本に固定する
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrations, "migrations", log); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Append は通知を保存する。
func (s *SQLite) Append(ctx context.Context, n NewNotification) (Notification, error) {
	payload := n.Payload
	if len(payload) == 0 {
		payload = nullPayload
	}
	createdAt := s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, payload, created_at) VALUES (?, ?, ?)`,
		n.UserID, string(payload), createdAt.UnixNano(),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の保存に失敗: %w: %w", ErrUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Notification{}, fmt.Errorf("採番されたIDの取得に失敗: %w: %w", ErrUnavailable, err)
	}

	return Notification{
		ID:        id,
		UserID:    n.UserID,
		Payload:   payload,
		CreatedAt: createdAt,
	}, nil
}

// QueryAfter はカーソルより後の通知をID昇順で返す。
func (s *SQLite) QueryAfter(ctx context.Context, userID string, afterID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		// SQLiteではLIMIT -1は無制限を意味する
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, payload, created_at FROM notifications
		 WHERE user_id = ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		userID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("通知の検索に失敗: %w: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の読み込みに失敗: %w: %w", ErrUnavailable, err)
	}
	return notifications, nil
}

// Get はIDで通知を取得する。
func (s *SQLite) Get(ctx context.Context, id int64) (Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, payload, created_at FROM notifications WHERE id = ?`, id)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	return n, err
}

// PruneBefore はcutoffより前に作成された通知を削除する。
func (s *SQLite) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("古い通知の削除に失敗: %w: %w", ErrUnavailable, err)
	}
	return res.RowsAffected()
}

// scanner はsql.Rowとsql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanNotification は1行を通知に変換する。
func scanNotification(sc scanner) (Notification, error) {
	var (
		n         Notification
		payload   string
		createdAt int64
	)
	if err := sc.Scan(&n.ID, &n.UserID, &payload, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Notification{}, err
		}
		return Notification{}, fmt.Errorf("通知行の読み込みに失敗: %w: %w", ErrUnavailable, err)
	}
	n.Payload = json.RawMessage(payload)
	n.CreatedAt = time.Unix(0, createdAt).UTC()
	return n, nil
}
