package positions

import "database/sql"

// PositionsSchema holds tracked positions and their append-only field
// history. History rows are written by the repository whenever a tracked
// field changes; they are never mutated afterwards.
const PositionsSchema = `
CREATE TABLE IF NOT EXISTS positions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    portfolio TEXT NOT NULL DEFAULT 'default',
    state REAL NOT NULL DEFAULT 0,

    e1_shares REAL NOT NULL DEFAULT 0,
    e1_price REAL NOT NULL DEFAULT 0,
    e1_date TEXT,
    e2_shares REAL NOT NULL DEFAULT 0,
    e2_price REAL NOT NULL DEFAULT 0,
    e2_date TEXT,
    e3_shares REAL NOT NULL DEFAULT 0,
    e3_price REAL NOT NULL DEFAULT 0,
    e3_date TEXT,

    tp1_sold REAL NOT NULL DEFAULT 0,
    tp1_price REAL NOT NULL DEFAULT 0,
    tp1_date TEXT,
    tp2_sold REAL NOT NULL DEFAULT 0,
    tp2_price REAL NOT NULL DEFAULT 0,
    tp2_date TEXT,

    total_shares REAL NOT NULL DEFAULT 0,
    avg_cost REAL NOT NULL DEFAULT 0,
    current_pnl_pct REAL NOT NULL DEFAULT 0,
    stop_price REAL NOT NULL DEFAULT 0,
    tp1_target REAL NOT NULL DEFAULT 0,
    tp2_target REAL NOT NULL DEFAULT 0,
    stop_is_manual INTEGER NOT NULL DEFAULT 0,
    tp1_is_manual INTEGER NOT NULL DEFAULT 0,
    tp2_is_manual INTEGER NOT NULL DEFAULT 0,
    running_high REAL NOT NULL DEFAULT 0,

    pattern TEXT NOT NULL DEFAULT '',
    base_stage TEXT NOT NULL DEFAULT '',
    base_depth REAL NOT NULL DEFAULT 0,
    base_length REAL NOT NULL DEFAULT 0,
    pivot REAL NOT NULL DEFAULT 0,
    pivot_set_date TEXT,
    original_pivot REAL NOT NULL DEFAULT 0,

    rs_rating INTEGER NOT NULL DEFAULT 0,
    eps_rating INTEGER NOT NULL DEFAULT 0,
    comp_rating INTEGER NOT NULL DEFAULT 0,
    ad_rating TEXT NOT NULL DEFAULT '',
    industry_rank INTEGER NOT NULL DEFAULT 0,
    fund_count INTEGER NOT NULL DEFAULT 0,

    entry_grade TEXT NOT NULL DEFAULT '',
    entry_score REAL NOT NULL DEFAULT 0,

    last_price REAL NOT NULL DEFAULT 0,
    last_price_time TEXT,
    avg_volume_50d REAL NOT NULL DEFAULT 0,
    earnings_date TEXT,

    needs_sheet_sync INTEGER NOT NULL DEFAULT 0,
    watching_exited_since TEXT,
    ma_test_count INTEGER NOT NULL DEFAULT 0,

    exit_date TEXT,
    exit_price REAL NOT NULL DEFAULT 0,
    exit_reason TEXT NOT NULL DEFAULT '',

    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state);
CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio);

CREATE TABLE IF NOT EXISTS position_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id INTEGER NOT NULL,
    field_name TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    change_source TEXT NOT NULL,
    changed_at TEXT NOT NULL,
    FOREIGN KEY (position_id) REFERENCES positions(id)
);

CREATE INDEX IF NOT EXISTS idx_position_history_position ON position_history(position_id, changed_at);
CREATE INDEX IF NOT EXISTS idx_position_history_field ON position_history(position_id, field_name, changed_at);

CREATE TABLE IF NOT EXISTS position_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id INTEGER NOT NULL,
    snapshot_date TEXT NOT NULL,
    state REAL NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    pnl_pct REAL NOT NULL DEFAULT 0,
    total_shares REAL NOT NULL DEFAULT 0,
    avg_cost REAL NOT NULL DEFAULT 0,
    stop_price REAL NOT NULL DEFAULT 0,
    running_high REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE (position_id, snapshot_date),
    FOREIGN KEY (position_id) REFERENCES positions(id)
);

CREATE INDEX IF NOT EXISTS idx_position_snapshots_date ON position_snapshots(snapshot_date);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(PositionsSchema)
	return err
}
