// Package events is the in-process publish/subscribe hub the services
// publish domain happenings on. The SSE stream and other observers
// subscribe; nothing in the core depends on anyone listening.
package events

import (
	"encoding/json"
	"time"
)

// EventType names one kind of domain happening.
type EventType string

const (
	AlertCreated         EventType = "ALERT_CREATED"
	AlertDelivered       EventType = "ALERT_DELIVERED"
	AlertDeliveryFailed  EventType = "ALERT_DELIVERY_FAILED"
	PositionStateChanged EventType = "POSITION_STATE_CHANGED"
	PositionUpdated      EventType = "POSITION_UPDATED"
	BreakoutDetected     EventType = "BREAKOUT_DETECTED"
	RegimeChanged        EventType = "REGIME_CHANGED"
	DistributionDayAdded EventType = "DISTRIBUTION_DAY_ADDED"
	FollowThroughDay     EventType = "FOLLOW_THROUGH_DAY"
	SettingsChanged      EventType = "SETTINGS_CHANGED"
	WorkerStatusChanged  EventType = "WORKER_STATUS_CHANGED"
	BackupCompleted      EventType = "BACKUP_COMPLETED"
	MarketStatusChanged  EventType = "MARKET_STATUS_CHANGED"
	ErrorOccurred        EventType = "ERROR_OCCURRED"
)

// Event is one delivered happening. Data is a plain map so the SSE
// stream can serialize it without knowing the payload type; GetTypedData
// recovers the typed view.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData converts the Data map back to the payload struct for the
// event's type. Returns nil for unknown types or undecodable data.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	switch e.Type {
	case AlertCreated:
		var data AlertCreatedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case AlertDelivered:
		var data AlertDeliveredData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case AlertDeliveryFailed:
		var data AlertDeliveryFailedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case PositionStateChanged:
		var data PositionStateChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case PositionUpdated:
		var data PositionUpdatedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case BreakoutDetected:
		var data BreakoutDetectedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case RegimeChanged:
		var data RegimeChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case DistributionDayAdded:
		var data DistributionDayAddedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case FollowThroughDay:
		var data FollowThroughDayData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case SettingsChanged:
		var data SettingsChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case WorkerStatusChanged:
		var data WorkerStatusChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case BackupCompleted:
		var data BackupCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case MarketStatusChanged:
		var data MarketStatusChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ErrorOccurred:
		var data ErrorEventData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	}

	return nil
}

func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}
