package models

import "time"

// DocumentType is the vehicle document a reminder tracks.
type DocumentType string

const (
	DocumentITP       DocumentType = "itp"
	DocumentRCA       DocumentType = "rca"
	DocumentRovinieta DocumentType = "rovinieta"
)

// Reminder is a vehicle-expiry subscription. The phone number is stored
// envelope-encrypted; PhoneEncrypted/PhoneDEK/PhoneKeyID together form the
// ciphertext bundle. Reminders are soft-deleted except under GDPR deletion.
type Reminder struct {
	ID                   string       `db:"id"`
	PhoneEncrypted       string       `db:"phone_encrypted"`
	PhoneDEK             string       `db:"phone_dek"`
	PhoneKeyID           string       `db:"phone_key_id"`
	PhoneHash            string       `db:"phone_hash"`
	Email                string       `db:"email"`
	PlateNumber          string       `db:"plate_number"`
	DocumentType         DocumentType `db:"document_type"`
	ExpiryDate           string       `db:"expiry_date"`
	Intervals            []int        `db:"intervals"`
	ChannelSMS           bool         `db:"channel_sms"`
	ChannelEmail         bool         `db:"channel_email"`
	NextNotificationDate string       `db:"next_notification_date"`
	StationID            string       `db:"station_id"`
	OptOut               bool         `db:"opt_out"`
	DeletedAt            *time.Time   `db:"deleted_at"`
	CreatedAt            time.Time    `db:"created_at"`
	UpdatedAt            time.Time    `db:"updated_at"`
}

// Active reports whether the reminder should still receive notifications.
func (r *Reminder) Active() bool {
	return r.DeletedAt == nil && !r.OptOut
}
