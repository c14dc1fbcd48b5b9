package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/encryption"
	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/optout"
	"github.com/trollofun/uitdeitp/internal/repository/scylla"
	"github.com/trollofun/uitdeitp/internal/schedule"
	"github.com/trollofun/uitdeitp/internal/util"
)

var documentLabels = map[models.DocumentType]string{
	models.DocumentITP:       "ITP",
	models.DocumentRCA:       "RCA",
	models.DocumentRovinieta: "Rovinieta",
}

// EmailSender delivers a plain-text reminder email.
type EmailSender interface {
	Send(to, subject, body string) error
}

// DeliveryRecorder persists per-item batch outcomes for analytics.
type DeliveryRecorder interface {
	InsertDeliveries(ctx context.Context, records []models.DeliveryRecord) error
}

// BatchResult summarizes one daily run.
type BatchResult struct {
	Date    string
	Due     int
	Sent    int
	Failed  int
	Skipped int
	Elapsed time.Duration
}

// BatchService is the daily reminder dispatcher. A run queries everything
// due today, sends per configured channels, advances each reminder's
// schedule, and records outcomes. Item failures never abort the run.
type BatchService struct {
	reminderRepo  scylla.ReminderRepository
	encryptionMgr *encryption.EncryptionManager
	smsSender     SMSSender
	emailSender   EmailSender
	recorder      DeliveryRecorder
	logger        *zap.Logger
	cfg           *config.Config
	now           func() time.Time
}

func NewBatchService(
	reminderRepo scylla.ReminderRepository,
	encryptionMgr *encryption.EncryptionManager,
	smsSender SMSSender,
	emailSender EmailSender,
	recorder DeliveryRecorder,
	logger *zap.Logger,
	cfg *config.Config,
) *BatchService {
	return &BatchService{
		reminderRepo:  reminderRepo,
		encryptionMgr: encryptionMgr,
		smsSender:     smsSender,
		emailSender:   emailSender,
		recorder:      recorder,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Run executes one daily pass within the configured time budget.
func (s *BatchService) Run(ctx context.Context) (*BatchResult, error) {
	startTime := s.now()
	today := startTime.UTC().Truncate(24 * time.Hour)
	date := schedule.FormatDate(today)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Batch.Budget)
	defer cancel()

	ids, err := s.reminderRepo.IDsDueOn(date)
	if err != nil {
		return nil, fmt.Errorf("failed to load due reminders: %w", err)
	}

	s.logger.Info("Batch run starting",
		util.String("date", date),
		util.Int("due", len(ids)),
	)

	var (
		mu      sync.Mutex
		records []models.DeliveryRecord
		result  = BatchResult{Date: date, Due: len(ids)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Batch.Concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			itemRecords, status := s.processOne(gctx, id, today, date)

			mu.Lock()
			records = append(records, itemRecords...)
			switch status {
			case itemSent:
				result.Sent++
			case itemFailed:
				result.Failed++
			case itemSkipped:
				result.Skipped++
			}
			mu.Unlock()

			// Item errors are recorded, never propagated: one bad
			// reminder must not cancel the group.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.recorder != nil && len(records) > 0 {
		if err := s.recorder.InsertDeliveries(ctx, records); err != nil {
			s.logger.Error("Failed to record batch deliveries",
				util.String("date", date),
				util.ErrorField(err))
		}
	}

	result.Elapsed = time.Since(startTime)

	s.logger.Info("Batch run finished",
		util.String("date", date),
		util.Int("sent", result.Sent),
		util.Int("failed", result.Failed),
		util.Int("skipped", result.Skipped),
		util.Duration("elapsed", result.Elapsed),
	)

	return &result, nil
}

type itemStatus int

const (
	itemSent itemStatus = iota
	itemFailed
	itemSkipped
)

func (s *BatchService) processOne(ctx context.Context, id string, today time.Time, date string) ([]models.DeliveryRecord, itemStatus) {
	reminder, err := s.reminderRepo.GetByID(id)
	if err != nil {
		s.logger.Warn("Batch item load failed",
			util.String("reminder_id", id),
			util.ErrorField(err))
		return nil, itemFailed
	}

	if !reminder.Active() {
		return nil, itemSkipped
	}

	expiry, err := schedule.ParseDate(reminder.ExpiryDate)
	if err != nil {
		s.logger.Warn("Batch item has corrupt expiry date",
			util.String("reminder_id", id),
			util.String("expiry_date", reminder.ExpiryDate))
		return nil, itemFailed
	}

	daysUntil := schedule.DaysUntilExpiry(expiry, today)

	// The due-date index can lag edits; the firing rule is the authority.
	if !schedule.FiresToday(expiry, today, reminder.Intervals) {
		s.advance(reminder, expiry, daysUntil, date)
		return nil, itemSkipped
	}

	var (
		records []models.DeliveryRecord
		failed  bool
	)

	if reminder.ChannelSMS {
		rec := s.deliveryRecord(reminder, "sms", date, daysUntil)
		if err := s.sendSMS(ctx, reminder, daysUntil); err != nil {
			rec.Success = false
			rec.ErrorText = err.Error()
			failed = true
			s.logger.Warn("Batch SMS dispatch failed",
				util.String("reminder_id", id),
				util.ErrorField(err))
		}
		records = append(records, rec)
	}

	if reminder.ChannelEmail && reminder.Email != "" {
		rec := s.deliveryRecord(reminder, "email", date, daysUntil)
		if err := s.sendEmail(reminder, daysUntil); err != nil {
			rec.Success = false
			rec.ErrorText = err.Error()
			failed = true
			s.logger.Warn("Batch email dispatch failed",
				util.String("reminder_id", id),
				util.ErrorField(err))
		}
		records = append(records, rec)
	}

	s.advance(reminder, expiry, daysUntil, date)

	if failed {
		return records, itemFailed
	}
	return records, itemSent
}

func (s *BatchService) sendSMS(ctx context.Context, reminder *models.Reminder, daysUntil int) error {
	canonical, err := s.encryptionMgr.DecryptPhone(ctx, &encryption.EncryptedData{
		EncryptedValue: reminder.PhoneEncrypted,
		EncryptedDEK:   reminder.PhoneDEK,
		KeyID:          reminder.PhoneKeyID,
	})
	if err != nil {
		return fmt.Errorf("failed to decrypt phone: %w", err)
	}

	message := s.reminderMessage(reminder, canonical, daysUntil)
	return s.smsSender.Send(ctx, canonical, message)
}

func (s *BatchService) sendEmail(reminder *models.Reminder, daysUntil int) error {
	label := documentLabels[reminder.DocumentType]
	subject := fmt.Sprintf("%s pentru %s expira in %d zile", label, reminder.PlateNumber, daysUntil)
	body := fmt.Sprintf(
		"Buna ziua,\n\n%s pentru vehiculul %s expira pe %s (%d zile ramase).\n\nNu uita sa il reinnoiesti la timp.\n\nEchipa uitdeITP",
		label, reminder.PlateNumber, reminder.ExpiryDate, daysUntil)
	return s.emailSender.Send(reminder.Email, subject, body)
}

// reminderMessage fits document, plate, days and the opt-out short link
// into a single SMS segment.
func (s *BatchService) reminderMessage(reminder *models.Reminder, canonical string, daysUntil int) string {
	label := documentLabels[reminder.DocumentType]
	message := fmt.Sprintf("%s pentru %s expira in %d zile (%s).",
		label, reminder.PlateNumber, daysUntil, reminder.ExpiryDate)

	if token, err := optout.Encode(canonical); err == nil {
		message += fmt.Sprintf(" Dezabonare: %s/o?t=%s", s.cfg.Verification.OptOutBaseURL, token)
	}
	return message
}

func (s *BatchService) advance(reminder *models.Reminder, expiry time.Time, daysUntil int, oldDate string) {
	next := schedule.NextNotificationDate(expiry, daysUntil, reminder.Intervals)
	if err := s.reminderRepo.Advance(reminder.ID, next, oldDate); err != nil {
		s.logger.Warn("Failed to advance reminder schedule",
			util.String("reminder_id", reminder.ID),
			util.ErrorField(err))
	}
}

func (s *BatchService) deliveryRecord(reminder *models.Reminder, channel, date string, daysUntil int) models.DeliveryRecord {
	return models.DeliveryRecord{
		DateBucket:   date,
		ReminderID:   reminder.ID,
		Channel:      channel,
		PlateNumber:  reminder.PlateNumber,
		DocumentType: string(reminder.DocumentType),
		DaysToExpiry: daysUntil,
		Success:      true,
		SentAt:       time.Now().UTC(),
	}
}
