package settings

// Kind says how a stored string value is parsed by its readers.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
)

// Definition describes one setting the daemon reads.
type Definition struct {
	Key         string `json:"key"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
}

// Known lists every setting with a reader in the codebase. List and
// Update work off this table; writes to keys outside it are rejected so
// a typo cannot silently create a row nothing reads. The alerting,
// sizing, and retention keys take effect on their next read; the rest
// are read once at startup.
var Known = []Definition{
	// Alerting
	{Key: "alert_cooldown_minutes", Kind: KindInt,
		Description: "Minimum minutes between duplicate alerts of the same (symbol, type, subtype)"},
	{Key: "alert_retention_days", Kind: KindInt,
		Description: "Days of acknowledged alert history the nightly maintenance keeps"},

	// Positions
	{Key: "watch_expiry_days", Kind: KindInt,
		Description: "Days a stopped-out position may sit in watching-exited before the nightly sweep archives it"},
	{Key: "snapshot_retention_days", Kind: KindInt,
		Description: "Days of end-of-day position snapshots the nightly maintenance keeps"},
	{Key: "portfolio_value", Kind: KindFloat,
		Description: "Account value the sizing preview allocates against"},

	// Checker thresholds
	{Key: "earnings_critical_days", Kind: KindInt,
		Description: "Days before earnings at which the earnings checker escalates to critical"},
	{Key: "earnings_caution_days", Kind: KindInt,
		Description: "Days before earnings at which the earnings checker starts warning"},

	// Regime calculation
	{Key: "dday_decline_threshold_pct", Kind: KindFloat,
		Description: "Index decline (negative percent) that qualifies a distribution day"},
	{Key: "dday_min_volume_increase_pct", Kind: KindFloat,
		Description: "Volume increase over the prior session (percent) required for a distribution day"},
	{Key: "dday_rounding_decimals", Kind: KindInt,
		Description: "Decimal places the decline percentage is rounded to before the threshold test"},
	{Key: "dday_enable_stalling", Kind: KindBool,
		Description: "Count stalling days toward distribution-day totals"},
	{Key: "regime_bullish_floor", Kind: KindFloat,
		Description: "Composite score at or above which the regime is BULLISH"},
	{Key: "regime_neutral_floor", Kind: KindFloat,
		Description: "Composite score at or above which the regime is NEUTRAL"},
	{Key: "regime_fear_greed_enabled", Kind: KindBool,
		Description: "Blend the fear/greed reading into the composite score"},

	// Worker cadence
	{Key: "market_check_interval_seconds", Kind: KindInt,
		Description: "Market worker wake interval during market hours; zero means the compiled default"},
	{Key: "position_check_interval_seconds", Kind: KindInt,
		Description: "Position worker wake interval during market hours; zero means the compiled default"},
	{Key: "breakout_check_interval_seconds", Kind: KindInt,
		Description: "Breakout worker wake interval during market hours; zero means the compiled default"},

	// Scoring
	{Key: "scoring_config", Kind: KindString,
		Description: "Versioned JSON blob of scoring rules; overrides the compiled table"},

	// Credentials and endpoints
	{Key: "market_data_api_key", Kind: KindString,
		Description: "API key for the historical bars vendor"},
	{Key: "discord_webhook_alerts", Kind: KindString,
		Description: "Discord webhook URL for position and breakout alerts"},
	{Key: "discord_webhook_market", Kind: KindString,
		Description: "Discord webhook URL for market regime alerts"},
}

// Lookup finds a definition by key.
func Lookup(key string) (Definition, bool) {
	for _, def := range Known {
		if def.Key == key {
			return def, true
		}
	}
	return Definition{}, false
}
