package alerts

import "database/sql"

// AlertsSchema holds emitted alerts. An alert row is written before any
// delivery attempt; sent_at/sent_channel lag behind and may stay NULL when
// no notifier is configured. context_snapshot is the msgpack-encoded
// PositionContext the alert fired on.
const AlertsSchema = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    position_id INTEGER,
    symbol TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    alert_subtype TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',

    price REAL NOT NULL DEFAULT 0,
    pivot_at_alert REAL,
    avg_cost_at_alert REAL,
    pnl_pct_at_alert REAL,
    volume_ratio REAL,
    ma21 REAL,
    ma50 REAL,
    grade TEXT NOT NULL DEFAULT '',
    score REAL NOT NULL DEFAULT 0,
    market_regime TEXT NOT NULL DEFAULT '',
    state_at_alert REAL NOT NULL DEFAULT 0,
    context_snapshot BLOB,

    alert_time TEXT NOT NULL,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    sent_at TEXT,
    sent_channel TEXT,

    FOREIGN KEY (position_id) REFERENCES positions(id)
);

CREATE INDEX IF NOT EXISTS idx_alerts_cooldown ON alerts(symbol, alert_type, alert_subtype, alert_time);
CREATE INDEX IF NOT EXISTS idx_alerts_position ON alerts(position_id, alert_time);
CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(alert_time);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(AlertsSchema)
	return err
}
