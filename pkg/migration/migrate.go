// Package migration はembed.FSに置いたSQLファイルでSQLiteのスキーマを更新する。
//
// ファイル名は "<version>_<name>.up.sql" とし、versionの昇順に1ファイル1トランザクションで適用する。
// 適用済みのバージョンは schema_migrations テーブルに名前と適用日時つきで記録する。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// upSuffix は適用対象のファイルの拡張子。down.sqlは読み込まない。
const upSuffix = ".up.sql"

// Migration は1つのマイグレーションファイル。
type Migration struct {
	// Version はファイル名先頭の数値。
	Version int
	// Name はバージョンと拡張子を除いたファイル名。
	Name string

	file string
}

// Run はdir配下の未適用のマイグレーションをバージョン順に適用し、適用したものを返す。
// 途中で失敗した場合は、それまでに適用できたものとエラーを返す。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, log zerolog.Logger) ([]Migration, error) {
	pending, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("schema_migrationsの作成に失敗: %w", err)
	}

	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range pending {
		if _, ok := done[m.Version]; ok {
			continue
		}
		if err := apply(ctx, db, fsys, m); err != nil {
			return applied, fmt.Errorf("マイグレーション%d(%s)の適用に失敗: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m)
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("マイグレーションを適用しました")
	}
	return applied, nil
}

// Load はdir配下のマイグレーションファイルをバージョン昇順で返す。
// 命名規則に合わないファイルは無視し、同じバージョンが2つあればエラーにする。
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションディレクトリの読み込みに失敗: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		m, ok := parseFileName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		m.file = path.Join(dir, e.Name())
		out = append(out, m)
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("バージョン%dのマイグレーションが重複しています: %s, %s",
				out[i].Version, out[i-1].Name, out[i].Name)
		}
	}
	return out, nil
}

// parseFileName は "000001_create_notifications.up.sql" 形式のファイル名を解析する。
func parseFileName(name string) (Migration, bool) {
	base, ok := strings.CutSuffix(name, upSuffix)
	if !ok {
		return Migration{}, false
	}
	rawVersion, label, ok := strings.Cut(base, "_")
	if !ok || label == "" {
		return Migration{}, false
	}
	version, err := strconv.Atoi(rawVersion)
	if err != nil || version <= 0 {
		return Migration{}, false
	}
	return Migration{Version: version, Name: label}, true
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	done := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("適用済みバージョンの読み込みに失敗: %w", err)
		}
		done[v] = struct{}{}
	}
	return done, rows.Err()
}

// apply はSQLの実行とバージョンの記録を1つのトランザクションで行う。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, m Migration) error {
	body, err := fs.ReadFile(fsys, m.file)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UTC().UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
