package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/certman/internal/model"
)

// sqlRegistryQueries はSQL方言ごとのクエリ。
type sqlRegistryQueries struct {
	createTable string // 空の場合はInitでテーブルを作成しない
	selectAll   string
	deleteAll   string
	insert      string
}

// sqlRegistry はdomain_recordsテーブルをレジストリの永続化媒体として使用する共通実装。
// WriteAllは単一トランザクション内で全行を置き換える。
type sqlRegistry struct {
	db      *sql.DB
	queries sqlRegistryQueries
}

// Init はテーブル作成クエリが設定されている場合にテーブルを作成する。
func (r *sqlRegistry) Init(ctx context.Context) error {
	if r.queries.createTable == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, r.queries.createTable); err != nil {
		return fmt.Errorf("domain_recordsテーブルの作成に失敗しました: %w", err)
	}
	return nil
}

// ReadAll はposition順に全レコードを取得する。
func (r *sqlRegistry) ReadAll(ctx context.Context) ([]model.DomainRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.queries.selectAll)
	if err != nil {
		return nil, fmt.Errorf("ドメインレコードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	records := []model.DomainRecord{}
	for rows.Next() {
		var rec model.DomainRecord
		var remaining sql.NullInt64

		if err := rows.Scan(&rec.Name, &rec.StartDate, &rec.EndDate, &remaining); err != nil {
			return nil, fmt.Errorf("ドメインレコードの読み取りに失敗しました: %w", err)
		}

		rec.RemainingDays = model.UnknownDays()
		if remaining.Valid {
			rec.RemainingDays = model.KnownDays(int(remaining.Int64))
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ドメインレコードの走査に失敗しました: %w", err)
	}

	return records, nil
}

// WriteAll は全レコードを単一トランザクションで置き換える。
func (r *sqlRegistry) WriteAll(ctx context.Context, records []model.DomainRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, r.queries.deleteAll); err != nil {
		return fmt.Errorf("ドメインレコードの削除に失敗しました: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.queries.insert)
	if err != nil {
		return fmt.Errorf("挿入クエリの準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, i, rec.Name, rec.StartDate, rec.EndDate, remainingDaysValue(rec.RemainingDays)); err != nil {
			return fmt.Errorf("ドメインレコードの挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// remainingDaysValue は残日数をSQLの値に変換する。不明な場合はNULL。
func remainingDaysValue(d model.RemainingDays) sql.NullInt64 {
	n, ok := d.Value()
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
