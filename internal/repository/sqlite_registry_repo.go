package repository

import (
	"database/sql"
)

// createSQLiteDomainRecordsTable はSQLite用のテーブル定義。
const createSQLiteDomainRecordsTable = `
CREATE TABLE IF NOT EXISTS domain_records (
	position       INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	start_date     TEXT NOT NULL,
	end_date       TEXT NOT NULL,
	remaining_days INTEGER
);`

// SQLiteRegistryRepo はSQLiteを使用したレジストリの永続化媒体。
type SQLiteRegistryRepo struct {
	sqlRegistry
}

// NewSQLiteRegistryRepo はSQLiteRegistryRepoを生成する。
func NewSQLiteRegistryRepo(db *sql.DB) *SQLiteRegistryRepo {
	return &SQLiteRegistryRepo{sqlRegistry{
		db: db,
		queries: sqlRegistryQueries{
			createTable: createSQLiteDomainRecordsTable,
			selectAll: `SELECT name, start_date, end_date, remaining_days
			            FROM domain_records ORDER BY position ASC`,
			deleteAll: `DELETE FROM domain_records`,
			insert: `INSERT INTO domain_records (position, name, start_date, end_date, remaining_days)
			         VALUES (?, ?, ?, ?, ?)`,
		},
	}}
}

// compile-time interface check
var _ RegistryMedium = (*SQLiteRegistryRepo)(nil)
