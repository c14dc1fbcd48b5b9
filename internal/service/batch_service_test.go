package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/encryption"
	"github.com/trollofun/uitdeitp/internal/models"
)

type fakeEmailSender struct {
	mu       sync.Mutex
	subjects []string
	to       []string
	fail     error
}

func (f *fakeEmailSender) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.to = append(f.to, to)
	f.subjects = append(f.subjects, subject)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.DeliveryRecord
}

func (f *fakeRecorder) InsertDeliveries(_ context.Context, records []models.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

type batchHarness struct {
	batch    *BatchService
	reminder *ReminderService
	repo     *fakeReminderRepo
	sms      *fakeSMSSender
	email    *fakeEmailSender
	recorder *fakeRecorder
	today    time.Time
}

func newBatchHarness(t *testing.T) *batchHarness {
	t.Helper()

	cfg := testConfig()
	repo := newFakeReminderRepo()
	smsSender := &fakeSMSSender{}
	emailSender := &fakeEmailSender{}
	recorder := &fakeRecorder{}
	encryptionMgr := encryption.NewEncryptionManager(cfg, nil)

	// reminders are seeded through the service so they carry real
	// ciphertext and derived schedules
	reminderSvc := NewReminderService(repo, encryptionMgr, nil, nil, zap.NewNop(), cfg)

	// reminders are created the day before the batch runs; a freshly
	// derived next_notification_date always lies strictly in the future
	today := time.Date(2025, 11, 3, 0, 30, 0, 0, time.UTC)
	created := today.AddDate(0, 0, -1)
	reminderSvc.now = func() time.Time { return created }

	batch := NewBatchService(repo, encryptionMgr, smsSender, emailSender, recorder, zap.NewNop(), cfg)
	batch.now = func() time.Time { return today }

	return &batchHarness{
		batch:    batch,
		reminder: reminderSvc,
		repo:     repo,
		sms:      smsSender,
		email:    emailSender,
		recorder: recorder,
		today:    today,
	}
}

// seed creates a reminder expiring the given number of days from today.
func (h *batchHarness) seed(t *testing.T, phone, plate string, daysOut int, intervals []int) *ReminderView {
	t.Helper()
	req := &ReminderCreateRequest{
		Phone:        phone,
		PlateNumber:  plate,
		DocumentType: "itp",
		ExpiryDate:   h.today.AddDate(0, 0, daysOut).Format("2006-01-02"),
		Intervals:    intervals,
		ChannelSMS:   true,
	}
	view, err := h.reminder.CreateReminder(context.Background(), req)
	require.NoError(t, err)
	return view
}

func TestBatch_SendsAndAdvancesDueReminders(t *testing.T) {
	h := newBatchHarness(t)

	// fires today: 7 days out with a 7 in the schedule
	view := h.seed(t, "0712345678", "B123XYZ", 7, []int{7, 3, 1})
	require.Equal(t, "2025-11-03", h.repo.reminders[view.ID].NextNotificationDate)

	result, err := h.batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, h.sms.messages, 1)
	assert.Equal(t, "+40712345678", h.sms.phones[0])
	assert.Contains(t, h.sms.messages[0], "B123XYZ")
	assert.Contains(t, h.sms.messages[0], "7 zile")
	assert.Contains(t, h.sms.messages[0], "https://uitdeitp.ro/o?t=")

	// schedule advanced to the 3-day mark
	assert.Equal(t, "2025-11-07", h.repo.reminders[view.ID].NextNotificationDate)

	require.Len(t, h.recorder.records, 1)
	assert.True(t, h.recorder.records[0].Success)
	assert.Equal(t, "sms", h.recorder.records[0].Channel)
	assert.Equal(t, 7, h.recorder.records[0].DaysToExpiry)
}

func TestBatch_LastIntervalExhaustsSchedule(t *testing.T) {
	h := newBatchHarness(t)

	view := h.seed(t, "0712345678", "B123XYZ", 1, []int{7, 3, 1})
	require.Equal(t, "2025-11-03", h.repo.reminders[view.ID].NextNotificationDate)

	result, err := h.batch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	// no interval lies strictly below 1: the schedule is spent
	assert.Empty(t, h.repo.reminders[view.ID].NextNotificationDate)
}

func TestBatch_SkipsOptedOutReminders(t *testing.T) {
	h := newBatchHarness(t)

	view := h.seed(t, "0712345678", "B123XYZ", 7, []int{7})
	h.repo.reminders[view.ID].OptOut = true

	result, err := h.batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, h.sms.messages)
	assert.Empty(t, h.recorder.records)
}

func TestBatch_StaleDueDateIsReconciledWithoutSending(t *testing.T) {
	h := newBatchHarness(t)

	// due-date index says today, but the firing rule disagrees (no exact
	// interval match at 10 days out)
	view := h.seed(t, "0712345678", "B123XYZ", 10, []int{7, 3, 1})
	h.repo.reminders[view.ID].NextNotificationDate = "2025-11-03"

	result, err := h.batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, h.sms.messages)
	// the schedule is still repaired
	assert.Equal(t, "2025-11-06", h.repo.reminders[view.ID].NextNotificationDate)
}

func TestBatch_ItemFailureDoesNotAbortRun(t *testing.T) {
	h := newBatchHarness(t)

	h.seed(t, "0712345678", "B111AAA", 7, []int{7})
	h.seed(t, "0723456789", "CJ22BBB", 7, []int{7})

	h.sms.fail = errors.New("gateway down")

	result, err := h.batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Due)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, h.recorder.records, 2)
	for _, rec := range h.recorder.records {
		assert.False(t, rec.Success)
		assert.Contains(t, rec.ErrorText, "gateway down")
	}
}

func TestBatch_EmailChannel(t *testing.T) {
	h := newBatchHarness(t)

	req := &ReminderCreateRequest{
		Phone:        "0712345678",
		Email:        "ion@example.ro",
		PlateNumber:  "B123XYZ",
		DocumentType: "rca",
		ExpiryDate:   h.today.AddDate(0, 0, 7).Format("2006-01-02"),
		Intervals:    []int{7},
		ChannelSMS:   false,
		ChannelEmail: true,
	}
	_, err := h.reminder.CreateReminder(context.Background(), req)
	require.NoError(t, err)

	result, err := h.batch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Empty(t, h.sms.messages)
	require.Len(t, h.email.to, 1)
	assert.Equal(t, "ion@example.ro", h.email.to[0])
	assert.Contains(t, h.email.subjects[0], "RCA")
	assert.Contains(t, h.email.subjects[0], "B123XYZ")
}
