package database

import (
	"database/sql"
	"fmt"

	"github.com/username/tradejournal/backend/src/logger"
	_ "modernc.org/sqlite"
)

// InitDB opens the sqlite database and ensures the schema exists. The
// handle is returned rather than held globally so stores and registries
// can be constructed explicitly.
func InitDB(databasePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}

	logger.L.Info("Ensuring database schema", "databasePath", databasePath)

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		account TEXT,
		strategy TEXT,
		direction TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		profit REAL,
		commission REAL,
		fingerprint TEXT NOT NULL,
		input_string TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_user_fingerprint ON trades(user_id, fingerprint);

	CREATE TABLE IF NOT EXISTS import_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_format TEXT NOT NULL,
		file_size_bytes INTEGER NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		parse_cache_key TEXT,
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS strategies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, name)
	);
	`

	if _, err := db.Exec(createTableStatement); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	migrateTradesTable(db)

	logger.L.Info("Database tables ensured/created.")
	return db, nil
}

// migrateTradesTable adds columns introduced after the first release to
// databases created before them.
func migrateTradesTable(db *sql.DB) {
	rows, err := db.Query("PRAGMA table_info(trades)")
	if err != nil {
		logger.L.Error("Error querying table schema for 'trades'", "error", err)
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			logger.L.Error("Error scanning column info for 'trades'", "error", err)
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		logger.L.Error("Error iterating over column info for 'trades'", "error", err)
		return
	}

	if _, ok := columnExists["input_string"]; !ok {
		if _, err := db.Exec("ALTER TABLE trades ADD COLUMN input_string TEXT"); err != nil {
			logger.L.Error("Error adding 'input_string' column to 'trades' table", "error", err)
		} else {
			logger.L.Info("Added 'input_string' column to 'trades' table")
		}
	}
	if _, ok := columnExists["account"]; !ok {
		if _, err := db.Exec("ALTER TABLE trades ADD COLUMN account TEXT"); err != nil {
			logger.L.Error("Error adding 'account' column to 'trades' table", "error", err)
		} else {
			logger.L.Info("Added 'account' column to 'trades' table")
		}
	}
}
