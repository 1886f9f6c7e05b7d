package events

import "encoding/json"

// EventData is a typed event payload. Emitters build one of the structs
// below and publish it with Bus.EmitData; subscribers recover it with
// Event.GetTypedData.
type EventData interface {
	EventType() EventType
}

// AlertCreatedData announces a persisted alert.
type AlertCreatedData struct {
	AlertID  string  `json:"alert_id"`
	Symbol   string  `json:"symbol"`
	Type     string  `json:"alert_type"`
	Subtype  string  `json:"alert_subtype"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Price    float64 `json:"price"`
}

func (d *AlertCreatedData) EventType() EventType { return AlertCreated }

// AlertDeliveredData records a notifier accepting an alert.
type AlertDeliveredData struct {
	AlertID string `json:"alert_id"`
	Channel string `json:"channel"`
}

func (d *AlertDeliveredData) EventType() EventType { return AlertDelivered }

// AlertDeliveryFailedData records a notifier rejecting an alert; the
// morning redelivery sweep picks these up.
type AlertDeliveryFailedData struct {
	AlertID string `json:"alert_id"`
	Error   string `json:"error"`
}

func (d *AlertDeliveryFailedData) EventType() EventType { return AlertDeliveryFailed }

// PositionStateChangedData announces a lifecycle transition.
type PositionStateChangedData struct {
	PositionID int64   `json:"position_id"`
	Symbol     string  `json:"symbol"`
	FromState  float64 `json:"from_state"`
	ToState    float64 `json:"to_state"`
	Source     string  `json:"source"`
}

func (d *PositionStateChangedData) EventType() EventType { return PositionStateChanged }

// PositionUpdatedData carries a fresh last price for one position.
type PositionUpdatedData struct {
	PositionID  int64   `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	PnLPct      float64 `json:"pnl_pct"`
	RunningHigh float64 `json:"running_high"`
}

func (d *PositionUpdatedData) EventType() EventType { return PositionUpdated }

// BreakoutDetectedData announces a volume-confirmed move through a pivot.
type BreakoutDetectedData struct {
	Symbol      string   `json:"symbol"`
	Price       float64  `json:"price"`
	Pivot       float64  `json:"pivot"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty"`
	Zone        string   `json:"zone"`
}

func (d *BreakoutDetectedData) EventType() EventType { return BreakoutDetected }

// RegimeChangedData announces a market regime bucket flip.
type RegimeChangedData struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Composite float64 `json:"composite"`
	DDayCount int     `json:"dday_count"`
	FTDPhase  string  `json:"ftd_phase"`
}

func (d *RegimeChangedData) EventType() EventType { return RegimeChanged }

// DistributionDayAddedData announces a new distribution day on an index.
type DistributionDayAddedData struct {
	Index     string  `json:"index"`
	Date      string  `json:"date"`
	ChangePct float64 `json:"change_pct"`
	Count     int     `json:"count"`
}

func (d *DistributionDayAddedData) EventType() EventType { return DistributionDayAdded }

// FollowThroughDayData announces a confirmed follow-through day.
type FollowThroughDayData struct {
	Index    string  `json:"index"`
	Date     string  `json:"date"`
	GainPct  float64 `json:"gain_pct"`
	RallyDay int     `json:"rally_day"`
}

func (d *FollowThroughDayData) EventType() EventType { return FollowThroughDay }

// SettingsChangedData announces a runtime tunable write. An empty Value
// means the override was cleared and the compiled default applies again.
type SettingsChangedData struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (d *SettingsChangedData) EventType() EventType { return SettingsChanged }

// WorkerStatusChangedData announces a worker loop state change.
type WorkerStatusChangedData struct {
	Worker string `json:"worker"`
	Status string `json:"status"`
}

func (d *WorkerStatusChangedData) EventType() EventType { return WorkerStatusChanged }

// BackupCompletedData announces a finished backup upload.
type BackupCompletedData struct {
	Archive   string `json:"archive"`
	SizeBytes int64  `json:"size_bytes"`
	Duration  string `json:"duration"`
}

func (d *BackupCompletedData) EventType() EventType { return BackupCompleted }

// MarketStatusChangedData announces the session opening or closing.
type MarketStatusChangedData struct {
	Open       bool   `json:"open"`
	Session    string `json:"session"`
	EarlyClose bool   `json:"early_close"`
}

func (d *MarketStatusChangedData) EventType() EventType { return MarketStatusChanged }

// ErrorEventData carries a component failure worth surfacing.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// convertEventDataToMap flattens a typed payload to the map shape Event
// carries, via a JSON round trip so the map keys match the json tags.
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
