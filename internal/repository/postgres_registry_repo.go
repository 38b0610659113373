package repository

import (
	"database/sql"
)

// createPostgresDomainRecordsTable は初回利用時に作成するテーブル定義。
// マイグレーション000001と同じスキーマで、どちらが先に実行されても互いに影響しない。
const createPostgresDomainRecordsTable = `
CREATE TABLE IF NOT EXISTS domain_records (
	position       INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	start_date     TEXT NOT NULL,
	end_date       TEXT NOT NULL,
	remaining_days INTEGER CHECK (remaining_days IS NULL OR remaining_days >= 0)
);
CREATE INDEX IF NOT EXISTS idx_domain_records_name ON domain_records (name);`

// PostgresRegistryRepo はPostgreSQLを使用したレジストリの永続化媒体。
// Initでテーブルが存在しなければ作成する。スキーマの変更はマイグレーションで管理する。
type PostgresRegistryRepo struct {
	sqlRegistry
}

// NewPostgresRegistryRepo はPostgresRegistryRepoを生成する。
func NewPostgresRegistryRepo(db *sql.DB) *PostgresRegistryRepo {
	return &PostgresRegistryRepo{sqlRegistry{
		db: db,
		queries: sqlRegistryQueries{
			createTable: createPostgresDomainRecordsTable,
			selectAll: `SELECT name, start_date, end_date, remaining_days
			            FROM domain_records ORDER BY position ASC`,
			deleteAll: `DELETE FROM domain_records`,
			insert: `INSERT INTO domain_records (position, name, start_date, end_date, remaining_days)
			         VALUES ($1, $2, $3, $4, $5)`,
		},
	}}
}

// compile-time interface check
var _ RegistryMedium = (*PostgresRegistryRepo)(nil)
