package settings

import "database/sql"

// SettingsSchema holds runtime-tunable key/value configuration.
const SettingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    description TEXT,
    updated_at INTEGER NOT NULL
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(SettingsSchema)
	return err
}
