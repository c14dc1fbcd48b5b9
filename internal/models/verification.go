package models

import "time"

// VerificationSource identifies where a verification request originated.
type VerificationSource string

const (
	SourceKiosk     VerificationSource = "kiosk"
	SourceDashboard VerificationSource = "dashboard"
	SourceAdmin     VerificationSource = "admin"
)

// VerificationRecord is one OTP challenge for a phone number. The code is
// stored peppered-hashed, never in plaintext. A record becomes inert when it
// expires or exhausts its attempts; it is never deleted retroactively.
type VerificationRecord struct {
	PhoneNumber   string             `db:"phone_number"`
	TimeBucket    int64              `db:"time_bucket"`
	CodeID        string             `db:"code_id"`
	CodeHash      string             `db:"code_hash"`
	CodeSalt      string             `db:"code_salt"`
	PepperVersion int                `db:"pepper_version"`
	Algorithm     string             `db:"algorithm"`
	Source        VerificationSource `db:"source"`
	StationID     string             `db:"station_id"`
	Attempts      int                `db:"attempts"`
	Verified      bool               `db:"verified"`
	VerifiedAt    *time.Time         `db:"verified_at"`
	ExpiresAt     time.Time          `db:"expires_at"`
	CreatedAt     time.Time          `db:"created_at"`
}

// Usable reports whether the record can still satisfy a verify call.
func (r *VerificationRecord) Usable(now time.Time, maxAttempts int) bool {
	return !r.Verified && r.Attempts < maxAttempts && now.Before(r.ExpiresAt)
}
