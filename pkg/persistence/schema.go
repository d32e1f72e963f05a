package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion guards future migrations.
const CurrentSchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_findings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identity   TEXT NOT NULL,
	rule       TEXT NOT NULL,
	detail     TEXT NOT NULL,
	excerpt    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_findings_identity ON validation_findings(identity);
CREATE INDEX IF NOT EXISTS idx_findings_rule ON validation_findings(rule);

CREATE TABLE IF NOT EXISTS rate_buckets (
	identity      TEXT PRIMARY KEY,
	tokens        REAL NOT NULL,
	last_refill   TIMESTAMP NOT NULL,
	warnings      INTEGER NOT NULL DEFAULT 0,
	blocked_until TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}
	return nil
}
