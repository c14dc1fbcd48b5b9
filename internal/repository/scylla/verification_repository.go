package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/util"
)

// VerificationRepository persists OTP challenges and their attempt counters.
type VerificationRepository interface {
	Create(record *models.VerificationRecord) error
	// LatestActive returns the newest unverified, unexpired record with
	// attempts still below maxAttempts, or gocql.ErrNotFound. Skipping
	// exhausted records lets an older still-valid code succeed after a
	// newer one was burned.
	LatestActive(phoneNumber string, now time.Time, maxAttempts int) (*models.VerificationRecord, error)
	IncrementAttempts(phoneNumber, codeID string) error
	GetAttempts(phoneNumber, codeID string) (int, error)
	MarkVerified(phoneNumber, codeID string, at time.Time) error
}

type verificationRepository struct {
	client *ScyllaClient
}

func NewVerificationRepository(client *ScyllaClient, logger *zap.Logger) VerificationRepository {
	return &verificationRepository{client: client}
}

func (r *verificationRepository) Create(record *models.VerificationRecord) error {
	if record.CodeID == "" {
		record.CodeID = gocql.TimeUUID().String()
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = now.Add(10 * time.Minute)
	}

	query := r.client.Query(r.client.Prepared.CreateVerification,
		record.PhoneNumber, record.TimeBucket, record.CodeID, record.CodeHash,
		record.CodeSalt, record.PepperVersion, record.Algorithm,
		string(record.Source), record.StationID, record.Verified,
		record.VerifiedAt, record.ExpiresAt, record.CreatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create verification record",
			zap.String("code_id", record.CodeID),
			zap.Error(err))
		return fmt.Errorf("failed to create verification record: %w", err)
	}

	util.Info("Verification record created",
		zap.String("code_id", record.CodeID),
		zap.String("source", string(record.Source)),
		zap.Time("expires_at", record.ExpiresAt))

	return nil
}

func (r *verificationRepository) LatestActive(phoneNumber string, now time.Time, maxAttempts int) (*models.VerificationRecord, error) {
	// Newest rows come first (clustering order). A handful is enough:
	// codes expire in minutes and issuance is budgeted per hour.
	iter := r.client.Query(r.client.Prepared.GetVerifications, phoneNumber, 5).Iter()

	var candidates []*models.VerificationRecord
	var rec models.VerificationRecord
	var source string
	for iter.Scan(&rec.PhoneNumber, &rec.TimeBucket, &rec.CodeID, &rec.CodeHash,
		&rec.CodeSalt, &rec.PepperVersion, &rec.Algorithm, &source,
		&rec.StationID, &rec.Verified, &rec.VerifiedAt, &rec.ExpiresAt,
		&rec.CreatedAt) {
		if !rec.Verified && now.Before(rec.ExpiresAt) {
			rec.Source = models.VerificationSource(source)
			copied := rec
			candidates = append(candidates, &copied)
		}
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to query verification records",
			zap.Error(err))
		return nil, fmt.Errorf("failed to query verification records: %w", err)
	}

	for _, candidate := range candidates {
		attempts, err := r.GetAttempts(candidate.PhoneNumber, candidate.CodeID)
		if err != nil {
			return nil, err
		}
		if attempts >= maxAttempts {
			continue
		}
		candidate.Attempts = attempts
		return candidate, nil
	}

	return nil, gocql.ErrNotFound
}

func (r *verificationRepository) IncrementAttempts(phoneNumber, codeID string) error {
	query := r.client.Query(r.client.Prepared.IncrementAttempts, phoneNumber, codeID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to increment verification attempts",
			zap.String("code_id", codeID),
			zap.Error(err))
		return fmt.Errorf("failed to increment verification attempts: %w", err)
	}
	return nil
}

func (r *verificationRepository) GetAttempts(phoneNumber, codeID string) (int, error) {
	var attempts int64
	query := r.client.Query(r.client.Prepared.GetAttempts, phoneNumber, codeID)

	if err := r.client.ScanWithRetry(query, &attempts); err != nil {
		if err == gocql.ErrNotFound {
			return 0, nil // counter row appears on first failed attempt
		}
		return 0, fmt.Errorf("failed to get verification attempts: %w", err)
	}
	return int(attempts), nil
}

func (r *verificationRepository) MarkVerified(phoneNumber, codeID string, at time.Time) error {
	query := r.client.Query(r.client.Prepared.MarkVerified, at, phoneNumber, codeID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to mark verification as verified",
			zap.String("code_id", codeID),
			zap.Error(err))
		return fmt.Errorf("failed to mark verification as verified: %w", err)
	}

	util.Info("Verification marked as verified",
		zap.String("code_id", codeID))

	return nil
}
