package models

import "time"

// AuditEvent is published to Kafka for every security-relevant action:
// code requested, verify failed, verify succeeded, reminder opted out.
type AuditEvent struct {
	EventType  string    `json:"event_type"`
	PhoneHash  string    `json:"phone_hash"`
	Source     string    `json:"source,omitempty"`
	StationID  string    `json:"station_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeliveryRecord is one per-item outcome of the daily batch run, written to
// ClickHouse for delivery analytics.
type DeliveryRecord struct {
	DateBucket   string    `json:"date_bucket"`
	ReminderID   string    `json:"reminder_id"`
	Channel      string    `json:"channel"`
	PlateNumber  string    `json:"plate_number"`
	DocumentType string    `json:"document_type"`
	DaysToExpiry int       `json:"days_to_expiry"`
	Success      bool      `json:"success"`
	ErrorText    string    `json:"error_text"`
	SentAt       time.Time `json:"sent_at"`
}
