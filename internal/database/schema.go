package database

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id INTEGER PRIMARY KEY,
    usage_count INTEGER NOT NULL DEFAULT 0,
    subscribed INTEGER NOT NULL DEFAULT 0,
    subscription_expires TEXT,
    joined_at TEXT NOT NULL,
    is_admin INTEGER NOT NULL DEFAULT 0,
    reminded_for TEXT
)`, `
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    prompt TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_history_user ON history (user_id, id)`, `
CREATE TABLE IF NOT EXISTS payments (
    invoice_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    amount TEXT NOT NULL,
    asset TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    pay_url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
}

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id BIGINT PRIMARY KEY,
    usage_count INT NOT NULL DEFAULT 0,
    subscribed TINYINT(1) NOT NULL DEFAULT 0,
    subscription_expires VARCHAR(10),
    joined_at VARCHAR(10) NOT NULL,
    is_admin TINYINT(1) NOT NULL DEFAULT 0,
    reminded_for VARCHAR(10)
)`, `
CREATE TABLE IF NOT EXISTS history (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    type VARCHAR(32) NOT NULL,
    prompt TEXT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    KEY idx_history_user (user_id, id)
)`, `
CREATE TABLE IF NOT EXISTS payments (
    invoice_id VARCHAR(64) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount VARCHAR(32) NOT NULL,
    asset VARCHAR(16) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL,
    pay_url VARCHAR(512) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`,
}
