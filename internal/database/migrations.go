package database

// SQL migrations for the holdings link database.
// All migrations use IF NOT EXISTS to be idempotent.

// Holdings are replaced wholesale per user on every sync; position keeps
// the provider's order.
const migrationHoldings = `
CREATE TABLE IF NOT EXISTS holdings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    security_name TEXT NOT NULL DEFAULT '',
    ticker_symbol TEXT NOT NULL DEFAULT '',
    security_type TEXT NOT NULL DEFAULT '',
    quantity REAL NOT NULL DEFAULT 0,
    institution_price REAL NOT NULL DEFAULT 0,
    institution_value REAL NOT NULL DEFAULT 0,
    cost_basis REAL,
    synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, position)
);
`

const migrationLinkedInstitutions = `
CREATE TABLE IF NOT EXISTS linked_institutions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    institution_id TEXT NOT NULL,
    institution_name TEXT NOT NULL DEFAULT '',
    linked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, institution_id)
);
`

const migrationSyncHistory = `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'refresh',
    status TEXT NOT NULL,
    holdings_synced INTEGER DEFAULT 0,
    error_message TEXT,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    duration_ms INTEGER
);
`

const migrationDiagnostics = `
CREATE TABLE IF NOT EXISTS diagnostics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`

const migrationAnalysisCache = `
CREATE TABLE IF NOT EXISTS analysis_cache (
    user_id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_holdings_user ON holdings(user_id, position);
CREATE INDEX IF NOT EXISTS idx_linked_institutions_user ON linked_institutions(user_id);
CREATE INDEX IF NOT EXISTS idx_sync_history_user ON sync_history(user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_diagnostics_user ON diagnostics(user_id, id);
`

// migrations run in order; the schema version is their count.
var migrations = []string{
	migrationHoldings,
	migrationLinkedInstitutions,
	migrationSyncHistory,
	migrationDiagnostics,
	migrationAnalysisCache,
	migrationIndexes,
}

// SchemaVersion is the version RunMigrations brings a database to.
var SchemaVersion = len(migrations)
