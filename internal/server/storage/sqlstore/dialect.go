package sqlstore

import "time"

// Dialect captures the per-database differences: driver name, goose dialect,
// migration directory and placeholder style.
type Dialect struct {
	Name          string
	Driver        string
	GooseDialect  string
	MigrationsDir string

	ensureQuery string
	putQuery    string
	getQuery    string
	deleteQuery string
	listQuery   string

	putArgs func(ns, key string, value []byte, now time.Time) []any
}

// Postgres runs on pgx through database/sql.
var Postgres = Dialect{
	Name:          "postgres",
	Driver:        "pgx",
	GooseDialect:  "pgx",
	MigrationsDir: "postgres",

	ensureQuery: `INSERT INTO kv_namespaces (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING`,
	putQuery: `INSERT INTO kv_entries (namespace, entry_key, value, updated_at)
		SELECT $1::text, $2::text, $3::bytea, $4::timestamptz
		WHERE EXISTS (SELECT 1 FROM kv_namespaces WHERE name = $1)
		ON CONFLICT (namespace, entry_key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	getQuery:    `SELECT value FROM kv_entries WHERE namespace = $1 AND entry_key = $2`,
	deleteQuery: `DELETE FROM kv_entries WHERE namespace = $1 AND entry_key = $2`,
	listQuery:   `SELECT entry_key FROM kv_entries WHERE namespace = $1`,

	putArgs: func(ns, key string, value []byte, now time.Time) []any {
		return []any{ns, key, value, now}
	},
}

// SQLite uses the pure-Go modernc driver.
var SQLite = Dialect{
	Name:          "sqlite",
	Driver:        "sqlite",
	GooseDialect:  "sqlite3",
	MigrationsDir: "sqlite",

	ensureQuery: `INSERT INTO kv_namespaces (name) VALUES (?)
		ON CONFLICT (name) DO NOTHING`,
	putQuery: `INSERT INTO kv_entries (namespace, entry_key, value, updated_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM kv_namespaces WHERE name = ?)
		ON CONFLICT (namespace, entry_key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	getQuery:    `SELECT value FROM kv_entries WHERE namespace = ? AND entry_key = ?`,
	deleteQuery: `DELETE FROM kv_entries WHERE namespace = ? AND entry_key = ?`,
	listQuery:   `SELECT entry_key FROM kv_entries WHERE namespace = ?`,

	putArgs: func(ns, key string, value []byte, now time.Time) []any {
		return []any{ns, key, value, now.UTC(), ns}
	},
}

// DialectByName resolves "postgres" or "sqlite".
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case Postgres.Name:
		return Postgres, true
	case SQLite.Name:
		return SQLite, true
	}
	return Dialect{}, false
}
