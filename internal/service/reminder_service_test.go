package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/client"
	"github.com/trollofun/uitdeitp/internal/encryption"
	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/optout"
)

// ---- in-memory fakes ----

type fakeReminderRepo struct {
	mu        sync.Mutex
	reminders map[string]*models.Reminder
}

func newFakeReminderRepo() *fakeReminderRepo {
	return &fakeReminderRepo{reminders: make(map[string]*models.Reminder)}
}

func (f *fakeReminderRepo) Create(reminder *models.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *reminder
	f.reminders[reminder.ID] = &copied
	return nil
}

func (f *fakeReminderRepo) GetByID(id string) (*models.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, gocql.ErrNotFound
}

func (f *fakeReminderRepo) Update(reminder *models.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reminders[reminder.ID]; !ok {
		return gocql.ErrNotFound
	}
	copied := *reminder
	f.reminders[reminder.ID] = &copied
	return nil
}

func (f *fakeReminderRepo) Advance(id, nextDate, oldDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return gocql.ErrNotFound
	}
	r.NextNotificationDate = nextDate
	return nil
}

func (f *fakeReminderRepo) SoftDelete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return gocql.ErrNotFound
	}
	now := time.Now().UTC()
	r.DeletedAt = &now
	return nil
}

func (f *fakeReminderRepo) HardDelete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reminders[id]; !ok {
		return gocql.ErrNotFound
	}
	delete(f.reminders, id)
	return nil
}

func (f *fakeReminderRepo) OptOutByPhoneHash(phoneHash string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	affected := 0
	for _, r := range f.reminders {
		if r.PhoneHash == phoneHash && r.DeletedAt == nil && !r.OptOut {
			r.OptOut = true
			affected++
		}
	}
	return affected, nil
}

func (f *fakeReminderRepo) IDsDueOn(date string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, r := range f.reminders {
		if r.NextNotificationDate == date {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	docs    map[string]client.ReminderDocument
	deleted []string
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{docs: make(map[string]client.ReminderDocument)}
}

func (f *fakeIndexer) IndexReminder(_ context.Context, doc *client.ReminderDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = *doc
	return nil
}

func (f *fakeIndexer) DeleteReminder(_ context.Context, reminderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, reminderID)
	f.deleted = append(f.deleted, reminderID)
	return nil
}

func (f *fakeIndexer) SearchByPlate(_ context.Context, plate string, limit int) ([]client.ReminderDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []client.ReminderDocument
	for _, doc := range f.docs {
		if strings.HasPrefix(doc.PlateNumber, plate) && len(out) < limit {
			out = append(out, doc)
		}
	}
	return out, nil
}

// ---- harness ----

type reminderHarness struct {
	svc     *ReminderService
	repo    *fakeReminderRepo
	indexer *fakeIndexer
	clock   *time.Time
}

func newReminderHarness(t *testing.T) *reminderHarness {
	t.Helper()

	cfg := testConfig()
	repo := newFakeReminderRepo()
	indexer := newFakeIndexer()

	svc := NewReminderService(
		repo,
		encryption.NewEncryptionManager(cfg, nil),
		indexer,
		&fakePublisher{},
		zap.NewNop(),
		cfg,
	)

	current := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	return &reminderHarness{svc: svc, repo: repo, indexer: indexer, clock: &current}
}

func validCreateRequest() *ReminderCreateRequest {
	return &ReminderCreateRequest{
		Phone:        "0712 345 678",
		PlateNumber:  "b 123 xyz",
		DocumentType: "ITP",
		ExpiryDate:   "2025-12-13", // 40 days out from the harness clock
		Intervals:    []int{30, 14, 7, 1},
		ChannelSMS:   true,
	}
}

// ---- tests ----

func TestReminder_CreateDerivesSchedule(t *testing.T) {
	h := newReminderHarness(t)

	view, err := h.svc.CreateReminder(context.Background(), validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, "B123XYZ", view.PlateNumber)
	assert.Equal(t, "itp", view.DocumentType)
	// 40 days until expiry: the first interval strictly below 40 is 30,
	// so the reminder fires 30 days before expiry
	assert.Equal(t, "2025-11-13", view.NextNotificationDate)
	assert.Equal(t, "0712 345 678", view.Phone)

	stored := h.repo.reminders[view.ID]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.PhoneEncrypted, "0712", "phone must not be stored in the clear")
	assert.NotEmpty(t, stored.PhoneHash)

	doc, ok := h.indexer.docs[view.ID]
	require.True(t, ok, "created reminders are indexed for plate search")
	assert.Equal(t, "B123XYZ", doc.PlateNumber)
	_, err = time.Parse(time.RFC3339, doc.CreatedAt)
	assert.NoError(t, err, "indexed created_at is RFC3339")
}

func TestReminder_CreateValidation(t *testing.T) {
	h := newReminderHarness(t)
	ctx := context.Background()

	cases := map[string]func(*ReminderCreateRequest){
		"letters in phone":   func(r *ReminderCreateRequest) { r.Phone = "07abc45678" },
		"empty plate":        func(r *ReminderCreateRequest) { r.PlateNumber = "  " },
		"unknown document":   func(r *ReminderCreateRequest) { r.DocumentType = "casco" },
		"bad expiry format":  func(r *ReminderCreateRequest) { r.ExpiryDate = "13.12.2025" },
		"negative interval":  func(r *ReminderCreateRequest) { r.Intervals = []int{7, -1} },
		"no channels":        func(r *ReminderCreateRequest) { r.ChannelSMS = false },
		"email channel sans": func(r *ReminderCreateRequest) { r.ChannelEmail = true; r.ChannelSMS = false; r.Email = "" },
	}

	for name, mutate := range cases {
		req := validCreateRequest()
		mutate(req)
		_, err := h.svc.CreateReminder(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}
}

func TestReminder_EmptyIntervalsMeansNoSchedule(t *testing.T) {
	h := newReminderHarness(t)

	req := validCreateRequest()
	req.Intervals = nil

	view, err := h.svc.CreateReminder(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, view.NextNotificationDate)
}

func TestReminder_UpdateRederivesSchedule(t *testing.T) {
	h := newReminderHarness(t)
	ctx := context.Background()

	view, err := h.svc.CreateReminder(ctx, validCreateRequest())
	require.NoError(t, err)

	newExpiry := "2025-11-10" // 7 days out; first interval below 7 is 1
	updated, err := h.svc.UpdateReminder(ctx, view.ID, &ReminderUpdateRequest{
		ExpiryDate: &newExpiry,
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-11-09", updated.NextNotificationDate)
}

func TestReminder_SoftDeleteHidesReminder(t *testing.T) {
	h := newReminderHarness(t)
	ctx := context.Background()

	view, err := h.svc.CreateReminder(ctx, validCreateRequest())
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteReminder(ctx, view.ID))

	_, err = h.svc.GetReminder(ctx, view.ID)
	assert.ErrorIs(t, err, ErrReminderNotFound)

	// the row survives soft deletion
	assert.Contains(t, h.repo.reminders, view.ID)
	assert.NotContains(t, h.indexer.docs, view.ID)
}

func TestReminder_PurgeRemovesRow(t *testing.T) {
	h := newReminderHarness(t)
	ctx := context.Background()

	view, err := h.svc.CreateReminder(ctx, validCreateRequest())
	require.NoError(t, err)

	require.NoError(t, h.svc.PurgeReminder(ctx, view.ID))
	assert.NotContains(t, h.repo.reminders, view.ID)

	err = h.svc.PurgeReminder(ctx, view.ID)
	assert.ErrorIs(t, err, ErrReminderNotFound)
}

func TestReminder_OptOutViaToken(t *testing.T) {
	h := newReminderHarness(t)
	ctx := context.Background()

	// two reminders on the same phone, one on another
	_, err := h.svc.CreateReminder(ctx, validCreateRequest())
	require.NoError(t, err)
	second := validCreateRequest()
	second.PlateNumber = "CJ07ABC"
	second.DocumentType = "rca"
	_, err = h.svc.CreateReminder(ctx, second)
	require.NoError(t, err)
	other := validCreateRequest()
	other.Phone = "0723456789"
	otherView, err := h.svc.CreateReminder(ctx, other)
	require.NoError(t, err)

	token, err := optout.Encode("+40712345678")
	require.NoError(t, err)

	affected, err := h.svc.OptOut(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, affected)

	// the other phone's reminder is untouched
	assert.False(t, h.repo.reminders[otherView.ID].OptOut)

	// a reused link succeeds with nothing left to change
	affected, err = h.svc.OptOut(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 0, affected)

	_, err = h.svc.OptOut(ctx, "not-a-token!")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReminder_SearchByPlate(t *testing.T) {
	h := newReminderHarness(t)
	ctx := context.Background()

	view, err := h.svc.CreateReminder(ctx, validCreateRequest())
	require.NoError(t, err)

	docs, err := h.svc.SearchByPlate(ctx, "b 123", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, view.ID, docs[0].ID)

	_, err = h.svc.SearchByPlate(ctx, "", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
