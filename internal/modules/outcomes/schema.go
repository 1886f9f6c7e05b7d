package outcomes

import "database/sql"

// Schema holds closed-trade outcomes plus the learned_weights table the
// offline learning subsystem maintains. This service writes an outcomes row
// once per position (enforced by the UNIQUE constraint) and only ever reads
// learned_weights.
const Schema = `
CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id INTEGER NOT NULL UNIQUE,
    symbol TEXT NOT NULL,

    pattern TEXT NOT NULL DEFAULT '',
    base_stage TEXT NOT NULL DEFAULT '',
    base_depth REAL NOT NULL DEFAULT 0,
    base_length REAL NOT NULL DEFAULT 0,
    rs_rating INTEGER NOT NULL DEFAULT 0,
    entry_grade TEXT NOT NULL DEFAULT '',
    entry_score REAL NOT NULL DEFAULT 0,

    gross_pct REAL NOT NULL DEFAULT 0,
    holding_days INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,

    entry_date TEXT,
    exit_date TEXT,
    exit_reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,

    FOREIGN KEY (position_id) REFERENCES positions(id)
);

CREATE INDEX IF NOT EXISTS idx_outcomes_symbol ON outcomes(symbol);
CREATE INDEX IF NOT EXISTS idx_outcomes_class ON outcomes(outcome);

CREATE TABLE IF NOT EXISTS learned_weights (
    version TEXT NOT NULL,
    factor TEXT NOT NULL,
    weight REAL NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (version, factor)
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
