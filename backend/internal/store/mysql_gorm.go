package store

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQL 打开 database/sql 连接，快照表走原生 SQL
func OpenSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

const snapshotTableDDL = `CREATE TABLE IF NOT EXISTS document_snapshots (
	document_id VARCHAR(64) NOT NULL,
	revision BIGINT UNSIGNED NOT NULL,
	content LONGTEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (document_id, revision)
)`

// EnsureSnapshotTable 创建快照表（已存在时不做任何事）
func EnsureSnapshotTable(db *sql.DB) error {
	_, err := db.Exec(snapshotTableDDL)
	return err
}
