package sqlstore

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	driver    string
	forUpdate string // row-lock suffix for SELECT inside a transaction
	schema    []string
}

// SQLite serializes writers itself: transactions begin IMMEDIATE (see
// sqliteDSN), so the first statement already holds the write lock and
// FOR UPDATE is neither needed nor supported.
var sqliteDialect = dialect{
	driver:    "sqlite3",
	forUpdate: "",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			role       TEXT NOT NULL CHECK (role IN ('member', 'admin', 'owner')),
			balance    TEXT NOT NULL DEFAULT '0.00',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			total      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prizes (
			id         TEXT PRIMARY KEY,
			draw_no    INTEGER NOT NULL,
			prize_rank INTEGER NOT NULL CHECK (prize_rank BETWEEN 1 AND 5),
			amount     TEXT NOT NULL,
			kind       TEXT NOT NULL CHECK (kind IN ('exclusive', 'tail')),
			suffix     TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE (draw_no, prize_rank)
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			number      TEXT NOT NULL UNIQUE CHECK (length(number) = 6),
			price       TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'available'
			            CHECK (status IN ('available', 'sold', 'claimed')),
			owner_id    TEXT REFERENCES accounts(id),
			purchase_id TEXT REFERENCES purchases(id),
			prize_id    TEXT REFERENCES prizes(id),
			CHECK ((owner_id IS NULL) = (status = 'available'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_prize ON tickets(prize_id)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_account ON purchases(account_id)`,
	},
}

// MySQL runs at REPEATABLE READ; every read that feeds a write takes
// FOR UPDATE so the value read is the value the row lock protects.
var mysqlDialect = dialect{
	driver:    "mysql",
	forUpdate: " FOR UPDATE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         VARCHAR(64)   NOT NULL PRIMARY KEY,
			role       VARCHAR(16)   NOT NULL,
			balance    DECIMAL(14,2) NOT NULL DEFAULT 0.00,
			created_at BIGINT        NOT NULL,
			CONSTRAINT chk_accounts_balance CHECK (balance >= 0)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id         CHAR(36)      NOT NULL PRIMARY KEY,
			account_id VARCHAR(64)   NOT NULL,
			total      DECIMAL(14,2) NOT NULL,
			created_at BIGINT        NOT NULL,
			KEY idx_purchases_account (account_id),
			CONSTRAINT fk_purchases_account FOREIGN KEY (account_id) REFERENCES accounts(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS prizes (
			id         CHAR(36)      NOT NULL PRIMARY KEY,
			draw_no    BIGINT        NOT NULL,
			prize_rank TINYINT       NOT NULL,
			amount     DECIMAL(14,2) NOT NULL,
			kind       VARCHAR(16)   NOT NULL,
			suffix     VARCHAR(6)    NULL,
			created_at BIGINT        NOT NULL,
			UNIQUE KEY uk_prizes_draw_rank (draw_no, prize_rank)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id          BIGINT        NOT NULL AUTO_INCREMENT PRIMARY KEY,
			number      CHAR(6)       NOT NULL,
			price       DECIMAL(14,2) NOT NULL,
			status      VARCHAR(16)   NOT NULL DEFAULT 'available',
			owner_id    VARCHAR(64)   NULL,
			purchase_id CHAR(36)      NULL,
			prize_id    CHAR(36)      NULL,
			UNIQUE KEY uk_tickets_number (number),
			KEY idx_tickets_status (status),
			KEY idx_tickets_owner (owner_id),
			KEY idx_tickets_prize (prize_id),
			CONSTRAINT fk_tickets_owner FOREIGN KEY (owner_id) REFERENCES accounts(id),
			CONSTRAINT fk_tickets_purchase FOREIGN KEY (purchase_id) REFERENCES purchases(id),
			CONSTRAINT fk_tickets_prize FOREIGN KEY (prize_id) REFERENCES prizes(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}
