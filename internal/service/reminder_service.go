package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/client"
	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/encryption"
	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/optout"
	"github.com/trollofun/uitdeitp/internal/phone"
	"github.com/trollofun/uitdeitp/internal/repository/scylla"
	"github.com/trollofun/uitdeitp/internal/schedule"
	"github.com/trollofun/uitdeitp/internal/util"
)

// ReminderIndexer mirrors the Elasticsearch operations the service needs,
// so tests can run against an in-memory fake.
type ReminderIndexer interface {
	IndexReminder(ctx context.Context, doc *client.ReminderDocument) error
	DeleteReminder(ctx context.Context, reminderID string) error
	SearchByPlate(ctx context.Context, plate string, limit int) ([]client.ReminderDocument, error)
}

// ReminderCreateRequest registers a new vehicle-expiry subscription.
type ReminderCreateRequest struct {
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	PlateNumber  string `json:"plate_number"`
	DocumentType string `json:"document_type"`
	ExpiryDate   string `json:"expiry_date"`
	Intervals    []int  `json:"intervals"`
	ChannelSMS   bool   `json:"channel_sms"`
	ChannelEmail bool   `json:"channel_email"`
	StationID    string `json:"station_id,omitempty"`
}

// ReminderUpdateRequest mutates an existing subscription. Nil fields are
// left unchanged.
type ReminderUpdateRequest struct {
	ExpiryDate   *string `json:"expiry_date,omitempty"`
	Intervals    []int   `json:"intervals,omitempty"`
	ChannelSMS   *bool   `json:"channel_sms,omitempty"`
	ChannelEmail *bool   `json:"channel_email,omitempty"`
	Email        *string `json:"email,omitempty"`
}

// ReminderView is the external representation; the phone is echoed back in
// local display format, never the stored ciphertext.
type ReminderView struct {
	ID                   string `json:"id"`
	Phone                string `json:"phone,omitempty"`
	Email                string `json:"email,omitempty"`
	PlateNumber          string `json:"plate_number"`
	DocumentType         string `json:"document_type"`
	ExpiryDate           string `json:"expiry_date"`
	Intervals            []int  `json:"intervals"`
	ChannelSMS           bool   `json:"channel_sms"`
	ChannelEmail         bool   `json:"channel_email"`
	NextNotificationDate string `json:"next_notification_date,omitempty"`
	StationID            string `json:"station_id,omitempty"`
	OptOut               bool   `json:"opt_out"`
	CreatedAt            string `json:"created_at"`
}

// ReminderService owns reminder subscriptions end to end: validation,
// phone encryption, schedule derivation, search indexing, opt-out.
type ReminderService struct {
	reminderRepo   scylla.ReminderRepository
	encryptionMgr  *encryption.EncryptionManager
	indexer        ReminderIndexer
	auditPublisher AuditPublisher
	logger         *zap.Logger
	cfg            *config.Config
	now            func() time.Time
}

func NewReminderService(
	reminderRepo scylla.ReminderRepository,
	encryptionMgr *encryption.EncryptionManager,
	indexer ReminderIndexer,
	auditPublisher AuditPublisher,
	logger *zap.Logger,
	cfg *config.Config,
) *ReminderService {
	return &ReminderService{
		reminderRepo:   reminderRepo,
		encryptionMgr:  encryptionMgr,
		indexer:        indexer,
		auditPublisher: auditPublisher,
		logger:         logger,
		cfg:            cfg,
		now:            time.Now,
	}
}

// CreateReminder validates and stores a new reminder, deriving its first
// notification date from the interval schedule.
func (s *ReminderService) CreateReminder(ctx context.Context, req *ReminderCreateRequest) (*ReminderView, error) {
	canonical, err := phone.Normalize(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	plate := util.NormalizePlate(req.PlateNumber)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate number is required", ErrInvalidInput)
	}

	docType := models.DocumentType(strings.ToLower(req.DocumentType))
	switch docType {
	case models.DocumentITP, models.DocumentRCA, models.DocumentRovinieta:
	default:
		return nil, fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, req.DocumentType)
	}

	expiry, err := schedule.ParseDate(req.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry date must be YYYY-MM-DD", ErrInvalidInput)
	}

	for _, iv := range req.Intervals {
		if iv <= 0 {
			return nil, fmt.Errorf("%w: intervals must be positive day offsets", ErrInvalidInput)
		}
	}

	if !req.ChannelSMS && !req.ChannelEmail {
		return nil, fmt.Errorf("%w: at least one notification channel is required", ErrInvalidInput)
	}
	if req.ChannelEmail && req.Email == "" {
		return nil, fmt.Errorf("%w: email is required for the email channel", ErrInvalidInput)
	}

	encrypted, err := s.encryptionMgr.EncryptPhone(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}

	now := s.now().UTC()
	daysUntil := schedule.DaysUntilExpiry(expiry, now)

	reminder := &models.Reminder{
		ID:                   uuid.New().String(),
		PhoneEncrypted:       encrypted.EncryptedValue,
		PhoneDEK:             encrypted.EncryptedDEK,
		PhoneKeyID:           encrypted.KeyID,
		PhoneHash:            GeneratePhoneHash(canonical),
		Email:                strings.TrimSpace(req.Email),
		PlateNumber:          plate,
		DocumentType:         docType,
		ExpiryDate:           schedule.FormatDate(expiry),
		Intervals:            req.Intervals,
		ChannelSMS:           req.ChannelSMS,
		ChannelEmail:         req.ChannelEmail,
		NextNotificationDate: schedule.NextNotificationDate(expiry, daysUntil, req.Intervals),
		StationID:            req.StationID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.reminderRepo.Create(reminder); err != nil {
		return nil, fmt.Errorf("failed to store reminder: %w", err)
	}

	s.indexReminder(ctx, reminder)

	s.logger.Info("Reminder created",
		util.String("reminder_id", reminder.ID),
		util.String("plate", plate),
		util.String("document_type", string(docType)),
		util.String("next_notification_date", reminder.NextNotificationDate),
	)

	return s.view(ctx, reminder), nil
}

// GetReminder returns a single reminder. Soft-deleted reminders behave as
// if they never existed.
func (s *ReminderService) GetReminder(ctx context.Context, id string) (*ReminderView, error) {
	reminder, err := s.loadActive(id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, reminder), nil
}

// UpdateReminder applies a partial update and rederives the schedule.
func (s *ReminderService) UpdateReminder(ctx context.Context, id string, req *ReminderUpdateRequest) (*ReminderView, error) {
	reminder, err := s.loadActive(id)
	if err != nil {
		return nil, err
	}

	if req.ExpiryDate != nil {
		expiry, err := schedule.ParseDate(*req.ExpiryDate)
		if err != nil {
			return nil, fmt.Errorf("%w: expiry date must be YYYY-MM-DD", ErrInvalidInput)
		}
		reminder.ExpiryDate = schedule.FormatDate(expiry)
	}
	if req.Intervals != nil {
		for _, iv := range req.Intervals {
			if iv <= 0 {
				return nil, fmt.Errorf("%w: intervals must be positive day offsets", ErrInvalidInput)
			}
		}
		reminder.Intervals = req.Intervals
	}
	if req.ChannelSMS != nil {
		reminder.ChannelSMS = *req.ChannelSMS
	}
	if req.ChannelEmail != nil {
		reminder.ChannelEmail = *req.ChannelEmail
	}
	if req.Email != nil {
		reminder.Email = strings.TrimSpace(*req.Email)
	}
	if !reminder.ChannelSMS && !reminder.ChannelEmail {
		return nil, fmt.Errorf("%w: at least one notification channel is required", ErrInvalidInput)
	}

	expiry, err := schedule.ParseDate(reminder.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("stored expiry date is corrupt: %w", err)
	}
	now := s.now().UTC()
	reminder.NextNotificationDate = schedule.NextNotificationDate(expiry, schedule.DaysUntilExpiry(expiry, now), reminder.Intervals)
	reminder.UpdatedAt = now

	if err := s.reminderRepo.Update(reminder); err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}

	s.indexReminder(ctx, reminder)

	s.logger.Info("Reminder updated",
		util.String("reminder_id", reminder.ID),
		util.String("next_notification_date", reminder.NextNotificationDate),
	)

	return s.view(ctx, reminder), nil
}

// DeleteReminder soft-deletes; the row survives for audit until a GDPR
// deletion removes it for real.
func (s *ReminderService) DeleteReminder(ctx context.Context, id string) error {
	reminder, err := s.loadActive(id)
	if err != nil {
		return err
	}

	if err := s.reminderRepo.SoftDelete(reminder.ID); err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}

	if s.indexer != nil {
		if err := s.indexer.DeleteReminder(ctx, reminder.ID); err != nil {
			s.logger.Warn("Failed to remove reminder from search index",
				util.String("reminder_id", reminder.ID),
				util.ErrorField(err))
		}
	}

	s.logger.Info("Reminder deleted",
		util.String("reminder_id", reminder.ID))

	return nil
}

// PurgeReminder hard-deletes a reminder and its index entry. GDPR path.
func (s *ReminderService) PurgeReminder(ctx context.Context, id string) error {
	reminder, err := s.reminderRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("failed to load reminder: %w", err)
	}

	if err := s.reminderRepo.HardDelete(reminder.ID); err != nil {
		return fmt.Errorf("failed to purge reminder: %w", err)
	}

	if s.indexer != nil {
		if err := s.indexer.DeleteReminder(ctx, reminder.ID); err != nil {
			s.logger.Warn("Failed to remove reminder from search index",
				util.String("reminder_id", reminder.ID),
				util.ErrorField(err))
		}
	}

	s.publishEventLocal(ctx, "reminder_purged", reminder.PhoneHash)

	s.logger.Info("Reminder purged",
		util.String("reminder_id", reminder.ID))

	return nil
}

// OptOut decodes an SMS opt-out token and silences every reminder bound to
// that phone. Idempotent: a reused link reports success with zero changes.
func (s *ReminderService) OptOut(ctx context.Context, token string) (int, error) {
	canonical, err := optout.Decode(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	phoneHash := GeneratePhoneHash(canonical)
	affected, err := s.reminderRepo.OptOutByPhoneHash(phoneHash)
	if err != nil {
		return 0, fmt.Errorf("failed to opt out: %w", err)
	}

	s.publishEventLocal(ctx, "reminder_opted_out", phoneHash)

	s.logger.Info("Opt-out processed",
		util.String("phone_hash", phoneHash),
		util.Int("reminders_affected", affected),
	)

	return affected, nil
}

// SearchByPlate serves the admin dashboard plate lookup from the search
// index. Results never include contact details.
func (s *ReminderService) SearchByPlate(ctx context.Context, plate string, limit int) ([]client.ReminderDocument, error) {
	plate = util.NormalizePlate(plate)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate query is required", ErrInvalidInput)
	}
	if s.indexer == nil {
		return nil, fmt.Errorf("%w: search index not configured", ErrExternalService)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	docs, err := s.indexer.SearchByPlate(ctx, plate, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed", ErrExternalService)
	}
	return docs, nil
}

func (s *ReminderService) loadActive(id string) (*models.Reminder, error) {
	reminder, err := s.reminderRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("failed to load reminder: %w", err)
	}
	if reminder.DeletedAt != nil {
		return nil, ErrReminderNotFound
	}
	return reminder, nil
}

func (s *ReminderService) view(ctx context.Context, reminder *models.Reminder) *ReminderView {
	view := &ReminderView{
		ID:                   reminder.ID,
		Email:                reminder.Email,
		PlateNumber:          reminder.PlateNumber,
		DocumentType:         string(reminder.DocumentType),
		ExpiryDate:           reminder.ExpiryDate,
		Intervals:            reminder.Intervals,
		ChannelSMS:           reminder.ChannelSMS,
		ChannelEmail:         reminder.ChannelEmail,
		NextNotificationDate: reminder.NextNotificationDate,
		StationID:            reminder.StationID,
		OptOut:               reminder.OptOut,
		CreatedAt:            reminder.CreatedAt.Format(time.RFC3339),
	}

	canonical, err := s.decryptPhone(ctx, reminder)
	if err != nil {
		s.logger.Warn("Failed to decrypt phone for view",
			util.String("reminder_id", reminder.ID),
			util.ErrorField(err))
	} else {
		view.Phone = phone.FormatLocal(canonical)
	}

	return view
}

func (s *ReminderService) decryptPhone(ctx context.Context, reminder *models.Reminder) (string, error) {
	return s.encryptionMgr.DecryptPhone(ctx, &encryption.EncryptedData{
		EncryptedValue: reminder.PhoneEncrypted,
		EncryptedDEK:   reminder.PhoneDEK,
		KeyID:          reminder.PhoneKeyID,
	})
}

func (s *ReminderService) indexReminder(ctx context.Context, reminder *models.Reminder) {
	if s.indexer == nil {
		return
	}
	doc := &client.ReminderDocument{
		ID:           reminder.ID,
		PlateNumber:  reminder.PlateNumber,
		DocumentType: string(reminder.DocumentType),
		ExpiryDate:   reminder.ExpiryDate,
		StationID:    reminder.StationID,
		CreatedAt:    reminder.CreatedAt.Format(time.RFC3339),
	}
	if err := s.indexer.IndexReminder(ctx, doc); err != nil {
		s.logger.Warn("Failed to index reminder",
			util.String("reminder_id", reminder.ID),
			util.ErrorField(err))
	}
}

func (s *ReminderService) publishEventLocal(ctx context.Context, eventType, phoneHash string) {
	if s.auditPublisher == nil {
		return
	}
	event := &models.AuditEvent{
		EventType:  eventType,
		PhoneHash:  phoneHash,
		OccurredAt: s.now().UTC(),
	}
	if err := s.auditPublisher.PublishAuditEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish audit event",
			util.String("event_type", eventType),
			util.ErrorField(err))
	}
}
