package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/util"
)

// ReminderRepository persists vehicle-expiry subscriptions. The by-date and
// by-phone lookup tables are written alongside the main row; Scylla has no
// secondary-index-free way to query either dimension otherwise.
type ReminderRepository interface {
	Create(reminder *models.Reminder) error
	GetByID(id string) (*models.Reminder, error)
	Update(reminder *models.Reminder) error
	// Advance moves next_notification_date after a dispatch; empty nextDate
	// means the schedule is exhausted.
	Advance(id, nextDate string, oldDate string) error
	SoftDelete(id string) error
	HardDelete(id string) error
	OptOutByPhoneHash(phoneHash string) (int, error)
	IDsDueOn(date string) ([]string, error)
}

type reminderRepository struct {
	client *ScyllaClient
}

func NewReminderRepository(client *ScyllaClient, logger *zap.Logger) ReminderRepository {
	return &reminderRepository{client: client}
}

func (r *reminderRepository) Create(reminder *models.Reminder) error {
	if reminder.ID == "" {
		reminder.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	reminder.CreatedAt = now
	reminder.UpdatedAt = now

	query := r.client.Query(r.client.Prepared.CreateReminder,
		reminder.ID, reminder.PhoneEncrypted, reminder.PhoneDEK,
		reminder.PhoneKeyID, reminder.PhoneHash, reminder.Email,
		reminder.PlateNumber, string(reminder.DocumentType),
		reminder.ExpiryDate, reminder.Intervals, reminder.ChannelSMS,
		reminder.ChannelEmail, reminder.NextNotificationDate,
		reminder.StationID, reminder.OptOut, reminder.DeletedAt,
		reminder.CreatedAt, reminder.UpdatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create reminder",
			zap.String("reminder_id", reminder.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create reminder: %w", err)
	}

	if reminder.NextNotificationDate != "" {
		byDate := r.client.Query(r.client.Prepared.CreateReminderByDate,
			reminder.NextNotificationDate, reminder.ID)
		if err := r.client.ExecuteWithRetry(byDate, 2); err != nil {
			return fmt.Errorf("failed to index reminder by date: %w", err)
		}
	}

	if reminder.PhoneHash != "" {
		byPhone := r.client.Query(r.client.Prepared.CreateReminderByPhone,
			reminder.PhoneHash, reminder.ID)
		if err := r.client.ExecuteWithRetry(byPhone, 2); err != nil {
			return fmt.Errorf("failed to index reminder by phone: %w", err)
		}
	}

	util.Info("Reminder created",
		zap.String("reminder_id", reminder.ID),
		zap.String("plate", reminder.PlateNumber),
		zap.String("next_notification", reminder.NextNotificationDate))

	return nil
}

func (r *reminderRepository) GetByID(id string) (*models.Reminder, error) {
	rem := &models.Reminder{}
	var docType string

	query := r.client.Query(r.client.Prepared.GetReminder, id)

	err := r.client.ScanWithRetry(query,
		&rem.ID, &rem.PhoneEncrypted, &rem.PhoneDEK, &rem.PhoneKeyID,
		&rem.PhoneHash, &rem.Email, &rem.PlateNumber, &docType,
		&rem.ExpiryDate, &rem.Intervals, &rem.ChannelSMS, &rem.ChannelEmail,
		&rem.NextNotificationDate, &rem.StationID, &rem.OptOut,
		&rem.DeletedAt, &rem.CreatedAt, &rem.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, err
		}
		util.Error("Failed to get reminder",
			zap.String("reminder_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}

	rem.DocumentType = models.DocumentType(docType)
	return rem, nil
}

func (r *reminderRepository) Update(reminder *models.Reminder) error {
	reminder.UpdatedAt = time.Now().UTC()

	query := r.client.Query(r.client.Prepared.UpdateReminder,
		reminder.ExpiryDate, reminder.Intervals, reminder.ChannelSMS,
		reminder.ChannelEmail, reminder.NextNotificationDate,
		reminder.UpdatedAt, reminder.ID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update reminder",
			zap.String("reminder_id", reminder.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update reminder: %w", err)
	}

	if reminder.NextNotificationDate != "" {
		byDate := r.client.Query(r.client.Prepared.CreateReminderByDate,
			reminder.NextNotificationDate, reminder.ID)
		if err := r.client.ExecuteWithRetry(byDate, 2); err != nil {
			return fmt.Errorf("failed to index reminder by date: %w", err)
		}
	}

	return nil
}

func (r *reminderRepository) Advance(id, nextDate string, oldDate string) error {
	query := r.client.Query(r.client.Prepared.AdvanceReminder, nextDate, time.Now().UTC(), id)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to advance reminder",
			zap.String("reminder_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to advance reminder: %w", err)
	}

	if oldDate != "" {
		del := r.client.Query(
			`DELETE FROM reminders_by_date WHERE next_notification_date = ? AND reminder_id = ?`,
			oldDate, id)
		if err := r.client.ExecuteWithRetry(del, 2); err != nil {
			util.Warn("Failed to remove stale by-date entry",
				zap.String("reminder_id", id),
				zap.Error(err))
		}
	}

	if nextDate != "" {
		byDate := r.client.Query(r.client.Prepared.CreateReminderByDate, nextDate, id)
		if err := r.client.ExecuteWithRetry(byDate, 2); err != nil {
			return fmt.Errorf("failed to index reminder by date: %w", err)
		}
	}

	return nil
}

func (r *reminderRepository) SoftDelete(id string) error {
	now := time.Now().UTC()
	query := r.client.Query(r.client.Prepared.SoftDeleteReminder, now, now, id)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to soft-delete reminder",
			zap.String("reminder_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to soft-delete reminder: %w", err)
	}

	util.Info("Reminder soft-deleted", zap.String("reminder_id", id))
	return nil
}

// HardDelete removes the row entirely. GDPR account deletion only.
func (r *reminderRepository) HardDelete(id string) error {
	rem, err := r.GetByID(id)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil
		}
		return err
	}

	del := r.client.Query(`DELETE FROM reminders WHERE id = ?`, id)
	if err := r.client.ExecuteWithRetry(del, 2); err != nil {
		return fmt.Errorf("failed to hard-delete reminder: %w", err)
	}

	if rem.NextNotificationDate != "" {
		byDate := r.client.Query(
			`DELETE FROM reminders_by_date WHERE next_notification_date = ? AND reminder_id = ?`,
			rem.NextNotificationDate, id)
		_ = r.client.ExecuteWithRetry(byDate, 2)
	}
	if rem.PhoneHash != "" {
		byPhone := r.client.Query(
			`DELETE FROM reminders_by_phone WHERE phone_hash = ? AND reminder_id = ?`,
			rem.PhoneHash, id)
		_ = r.client.ExecuteWithRetry(byPhone, 2)
	}

	util.Info("Reminder hard-deleted", zap.String("reminder_id", id))
	return nil
}

// OptOutByPhoneHash opts out every active reminder registered to a phone.
// Returns the number of reminders newly opted out, so repeating the call is
// idempotent and reports zero.
func (r *reminderRepository) OptOutByPhoneHash(phoneHash string) (int, error) {
	iter := r.client.Query(r.client.Prepared.GetRemindersByPhone, phoneHash).Iter()

	var id string
	var ids []string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list reminders for phone: %w", err)
	}

	now := time.Now().UTC()
	touched := 0
	for _, reminderID := range ids {
		rem, err := r.GetByID(reminderID)
		if err != nil {
			if err == gocql.ErrNotFound {
				continue
			}
			return touched, err
		}
		if rem.OptOut || rem.DeletedAt != nil {
			continue
		}

		query := r.client.Query(r.client.Prepared.OptOutReminder, now, reminderID)
		if err := r.client.ExecuteWithRetry(query, 2); err != nil {
			util.Error("Failed to opt out reminder",
				zap.String("reminder_id", reminderID),
				zap.Error(err))
			continue
		}
		touched++
	}

	util.Info("Reminders opted out",
		zap.String("phone_hash", phoneHash),
		zap.Int("count", touched))

	return touched, nil
}

func (r *reminderRepository) IDsDueOn(date string) ([]string, error) {
	iter := r.client.Query(r.client.Prepared.GetRemindersByDate, date).Iter()

	var id string
	var ids []string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to list due reminders",
			zap.String("date", date),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}

	return ids, nil
}
