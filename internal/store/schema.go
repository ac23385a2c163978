package store

// schema contains all table creation statements for the order store.
// Amounts and counters are stored as decimal strings rather than SQLite
// INTEGER because several (counter, salt, identifierOrCriteria, amounts) can
// exceed 64 bits; keeping them as TEXT avoids silent truncation.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_hash            BLOB PRIMARY KEY,
	offerer               BLOB NOT NULL,
	order_type            INTEGER NOT NULL,
	start_time            INTEGER NOT NULL,
	end_time              INTEGER NOT NULL,
	counter               TEXT NOT NULL,
	salt                  TEXT NOT NULL,
	conduit_key           BLOB NOT NULL,
	zone                  BLOB NOT NULL,
	zone_hash             BLOB NOT NULL,
	chain_id              TEXT NOT NULL,
	signature             BLOB NOT NULL,
	numerator             TEXT,
	denominator           TEXT,
	extra_data            BLOB,
	additional_recipients TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_offerer ON orders(offerer);
CREATE INDEX IF NOT EXISTS idx_orders_end_time ON orders(end_time);

CREATE TABLE IF NOT EXISTS offer_items (
	order_hash             BLOB NOT NULL,
	idx                    INTEGER NOT NULL,
	item_type              INTEGER NOT NULL,
	token                  BLOB NOT NULL,
	identifier_or_criteria TEXT NOT NULL,
	start_amount           TEXT NOT NULL,
	end_amount             TEXT NOT NULL,
	PRIMARY KEY (order_hash, idx),
	FOREIGN KEY (order_hash) REFERENCES orders(order_hash) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_offer_items_token ON offer_items(token);

CREATE TABLE IF NOT EXISTS consideration_items (
	order_hash             BLOB NOT NULL,
	idx                    INTEGER NOT NULL,
	item_type              INTEGER NOT NULL,
	token                  BLOB NOT NULL,
	identifier_or_criteria TEXT NOT NULL,
	start_amount           TEXT NOT NULL,
	end_amount             TEXT NOT NULL,
	recipient              BLOB NOT NULL,
	PRIMARY KEY (order_hash, idx),
	FOREIGN KEY (order_hash) REFERENCES orders(order_hash) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_consideration_items_token ON consideration_items(token);

CREATE TABLE IF NOT EXISTS order_metadata (
	order_hash                  BLOB PRIMARY KEY,
	is_valid                    BOOLEAN NOT NULL,
	is_pinned                   BOOLEAN NOT NULL,
	is_fully_fulfilled          BOOLEAN NOT NULL,
	last_validated_block_number TEXT NOT NULL,
	last_validated_block_hash   BLOB NOT NULL,
	last_fulfilled_at           TEXT,
	last_fulfilled_price        TEXT,
	auction_type                INTEGER NOT NULL,
	created_at                  TIMESTAMP NOT NULL,
	FOREIGN KEY (order_hash) REFERENCES orders(order_hash) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_order_metadata_valid ON order_metadata(is_valid);
CREATE INDEX IF NOT EXISTS idx_order_metadata_created_at ON order_metadata(created_at);

CREATE TABLE IF NOT EXISTS criteria (
	hash      BLOB PRIMARY KEY,
	token     BLOB NOT NULL,
	token_ids TEXT NOT NULL
);
`

func initSchema(exec execer) error {
	_, err := exec.Exec(schema)
	return err
}
