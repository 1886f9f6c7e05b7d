package regime

import "database/sql"

// RegimeSchema holds the per-date market regime record, the qualifying
// distribution days per index symbol, and the persisted FTD tracker state.
const RegimeSchema = `
CREATE TABLE IF NOT EXISTS market_regime_alerts (
    date TEXT PRIMARY KEY,
    composite_score REAL NOT NULL,
    entry_risk_score REAL NOT NULL,
    regime TEXT NOT NULL,

    spy_d_count INTEGER NOT NULL DEFAULT 0,
    qqq_d_count INTEGER NOT NULL DEFAULT 0,
    spy_5day_delta INTEGER NOT NULL DEFAULT 0,
    qqq_5day_delta INTEGER NOT NULL DEFAULT 0,
    d_day_trend TEXT NOT NULL DEFAULT 'FLAT',

    market_phase TEXT NOT NULL DEFAULT '',
    rally_day INTEGER NOT NULL DEFAULT 0,
    has_confirmed_ftd INTEGER NOT NULL DEFAULT 0,

    es_change_pct REAL,
    nq_change_pct REAL,
    ym_change_pct REAL,

    fear_greed_score REAL,
    fear_greed_rating TEXT NOT NULL DEFAULT '',
    vix_close REAL,

    config_version TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS distribution_days (
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    pct_change REAL NOT NULL,
    volume_ratio REAL NOT NULL,
    close REAL NOT NULL,
    stalling INTEGER NOT NULL DEFAULT 0,
    expired INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_distribution_days_active ON distribution_days(symbol, expired, date);

CREATE TABLE IF NOT EXISTS ftd_state (
    symbol TEXT PRIMARY KEY,
    phase TEXT NOT NULL,
    rally_start_date TEXT,
    day1_low REAL NOT NULL DEFAULT 0,
    last_ftd_date TEXT,
    ddays_since_ftd INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(RegimeSchema)
	return err
}
