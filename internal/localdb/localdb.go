package localdb

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

var DBClient *sql.DB

// SetupDB opens the local database and creates all tables.
func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	// WALモードとBusy Timeoutを設定（Race Condition対策）
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	db.SetMaxOpenConns(1)

	DBClient = db

	// ギフト名 → アクションのマッピング
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS action_mappings (
		gift_name TEXT PRIMARY KEY,
		action_kind TEXT NOT NULL DEFAULT 'operation',
		action_name TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '[]',
		description TEXT DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, err
	}

	// しきい値設定（count / value）
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS threshold_configs (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		target INTEGER NOT NULL,
		action TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, err
	}

	// ギフト名のリネーム設定
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS name_overrides (
		coin_value INTEGER NOT NULL,
		original_name TEXT NOT NULL,
		override_name TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (coin_value, original_name)
	)`)
	if err != nil {
		return nil, err
	}

	// アイテム無効化のリース記録（再起動後の復元に必須）
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS restoration_leases (
		item_key TEXT PRIMARY KEY,
		original_value INTEGER NOT NULL,
		ability_value INTEGER,
		slot_value INTEGER NOT NULL DEFAULT 0,
		display_name TEXT DEFAULT '',
		lease_start TIMESTAMP NOT NULL,
		lease_expiry TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// GetDB returns the database client, or nil before SetupDB.
func GetDB() *sql.DB {
	return DBClient
}

// CloseDB closes the database connection.
func CloseDB() error {
	if DBClient == nil {
		return nil
	}
	err := DBClient.Close()
	DBClient = nil
	return err
}
