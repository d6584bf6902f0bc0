package database

func schemaFor(d Dialect) string {
	switch d {
	case Postgres:
		return postgresSchema
	case SQLite:
		return sqliteSchema
	default:
		return mysqlSchema
	}
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    email VARCHAR(255) NULL,
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL,
    KEY idx_users_email (email)
);

CREATE TABLE IF NOT EXISTS orders (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL UNIQUE,
    user_id BIGINT NOT NULL,
    amount DECIMAL(10,2) NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    provider VARCHAR(32) NOT NULL DEFAULT '',
    trade_no VARCHAR(128) NULL,
    codes_issued BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL,
    KEY idx_orders_status_issued (status, codes_issued),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS redemption_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(16) NOT NULL UNIQUE,
    order_id VARCHAR(64) NULL,
    user_id BIGINT NOT NULL,
    usage_count INT NOT NULL DEFAULT 1,
    used_count INT NOT NULL DEFAULT 0,
    created_at DATETIME(3) NOT NULL,
    expires_at DATETIME(3) NULL,
    KEY idx_codes_order (order_id, created_at),
    CHECK (used_count >= 0 AND used_count <= usage_count),
    FOREIGN KEY (order_id) REFERENCES orders(order_id),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS generated_images (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    original_image_url TEXT NOT NULL,
    generated_image_url MEDIUMTEXT NULL,
    user_id BIGINT NULL,
    redemption_code_id BIGINT NULL,
    vendor VARCHAR(32) NOT NULL DEFAULT '',
    prompt TEXT NULL,
    status VARCHAR(16) NOT NULL,
    error_message TEXT NULL,
    created_at DATETIME(3) NOT NULL,
    KEY idx_generated_status_created (status, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id),
    FOREIGN KEY (redemption_code_id) REFERENCES redemption_codes(id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    email VARCHAR(255) NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);

CREATE TABLE IF NOT EXISTS orders (
    id BIGSERIAL PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL UNIQUE,
    user_id BIGINT NOT NULL REFERENCES users(id),
    amount NUMERIC(10,2) NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    provider VARCHAR(32) NOT NULL DEFAULT '',
    trade_no VARCHAR(128) NULL,
    codes_issued BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status_issued ON orders (status, codes_issued);

CREATE TABLE IF NOT EXISTS redemption_codes (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(16) NOT NULL UNIQUE,
    order_id VARCHAR(64) NULL REFERENCES orders(order_id),
    user_id BIGINT NOT NULL REFERENCES users(id),
    usage_count INT NOT NULL DEFAULT 1,
    used_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NULL,
    CHECK (used_count >= 0 AND used_count <= usage_count)
);

CREATE INDEX IF NOT EXISTS idx_codes_order ON redemption_codes (order_id, created_at);

CREATE TABLE IF NOT EXISTS generated_images (
    id BIGSERIAL PRIMARY KEY,
    original_image_url TEXT NOT NULL,
    generated_image_url TEXT NULL,
    user_id BIGINT NULL REFERENCES users(id),
    redemption_code_id BIGINT NULL REFERENCES redemption_codes(id),
    vendor VARCHAR(32) NOT NULL DEFAULT '',
    prompt TEXT NULL,
    status VARCHAR(16) NOT NULL,
    error_message TEXT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_generated_status_created ON generated_images (status, created_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);

CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id TEXT NOT NULL UNIQUE,
    user_id INTEGER NOT NULL REFERENCES users(id),
    amount TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    provider TEXT NOT NULL DEFAULT '',
    trade_no TEXT NULL,
    codes_issued INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status_issued ON orders (status, codes_issued);

CREATE TABLE IF NOT EXISTS redemption_codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL UNIQUE,
    order_id TEXT NULL REFERENCES orders(order_id),
    user_id INTEGER NOT NULL REFERENCES users(id),
    usage_count INTEGER NOT NULL DEFAULT 1,
    used_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NULL,
    CHECK (used_count >= 0 AND used_count <= usage_count)
);

CREATE INDEX IF NOT EXISTS idx_codes_order ON redemption_codes (order_id, created_at);

CREATE TABLE IF NOT EXISTS generated_images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    original_image_url TEXT NOT NULL,
    generated_image_url TEXT NULL,
    user_id INTEGER NULL REFERENCES users(id),
    redemption_code_id INTEGER NULL REFERENCES redemption_codes(id),
    vendor TEXT NOT NULL DEFAULT '',
    prompt TEXT NULL,
    status TEXT NOT NULL,
    error_message TEXT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_generated_status_created ON generated_images (status, created_at);
`
