package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/bucketing"
	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/hashing"
	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/ratelimit"
	"github.com/trollofun/uitdeitp/internal/service"
)

// ---- minimal fakes; the HTTP tests exercise routing, status mapping and
// rate-limit headers, not storage semantics ----

type memVerificationRepo struct {
	mu       sync.Mutex
	records  map[string][]*models.VerificationRecord
	attempts map[string]int
}

func newMemVerificationRepo() *memVerificationRepo {
	return &memVerificationRepo{
		records:  make(map[string][]*models.VerificationRecord),
		attempts: make(map[string]int),
	}
}

func (m *memVerificationRepo) Create(record *models.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records[record.PhoneNumber] = append(m.records[record.PhoneNumber], &copied)
	return nil
}

func (m *memVerificationRepo) LatestActive(phoneNumber string, now time.Time, maxAttempts int) (*models.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append([]*models.VerificationRecord(nil), m.records[phoneNumber]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	for _, r := range recs {
		if !r.Verified && now.Before(r.ExpiresAt) && m.attempts[r.CodeID] < maxAttempts {
			copied := *r
			copied.Attempts = m.attempts[r.CodeID]
			return &copied, nil
		}
	}
	return nil, gocql.ErrNotFound
}

func (m *memVerificationRepo) IncrementAttempts(phoneNumber, codeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[codeID]++
	return nil
}

func (m *memVerificationRepo) GetAttempts(phoneNumber, codeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[codeID], nil
}

func (m *memVerificationRepo) MarkVerified(phoneNumber, codeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[phoneNumber] {
		if r.CodeID == codeID {
			r.Verified = true
			return nil
		}
	}
	return gocql.ErrNotFound
}

type memStationRepo struct{}

func (memStationRepo) GetBySlug(slug string) (*models.Station, error) {
	if slug == "itp-cluj-1" {
		return &models.Station{ID: "st-1", Slug: slug, Active: true}, nil
	}
	return nil, gocql.ErrNotFound
}

type memSMS struct{}

func (memSMS) Send(context.Context, string, string) error { return nil }

type memBudget struct{}

func (memBudget) IncrementPhoneCounter(context.Context, string, time.Duration) (int, error) {
	return 1, nil
}

func testHandlerConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{RateLimitBuckets: 16, TimeBucketWindow: 3600},
		Verification: config.VerificationConfig{
			CodeTTL:         10 * time.Minute,
			MaxAttempts:     3,
			MaxCodesPerHour: 10,
			EchoCodeInDev:   true,
		},
		RateLimit: config.RateLimitConfig{
			SendPerHourIP:   10,
			ResendPerHourIP: 5,
			VerifyPerHourIP: 20,
			Window:          time.Hour,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	svc := service.NewVerificationService(
		newMemVerificationRepo(),
		memStationRepo{},
		hashing.NewHasher(cfg),
		memBudget{},
		memSMS{},
		nil,
		bucketing.NewBucketingManager(cfg),
		logger,
		cfg,
	)

	verificationHandler := NewVerificationHandler(svc, ratelimit.NewLimiter(ratelimit.NewMemoryStore()), cfg, logger)
	reminderHandler := NewReminderHandler(nil, logger)
	optOutHandler := NewOptOutHandler(nil, logger)

	return NewRouter(verificationHandler, reminderHandler, optOutHandler, false, logger)
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:50000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestVerificationHTTP_SendAndVerify(t *testing.T) {
	router := newTestRouter(t, testHandlerConfig())

	rec := postJSON(t, router, "/api/v1/verification/send",
		`{"phone":"0712 345 678","source":"kiosk","station_id":"itp-cluj-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	var sendResp struct {
		Success bool `json:"success"`
		Data    struct {
			DevCode string `json:"dev_code"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sendResp))
	require.True(t, sendResp.Success)
	require.NotEmpty(t, sendResp.Data.DevCode)

	rec = postJSON(t, router, "/api/v1/verification/verify",
		`{"phone":"0712345678","code":"`+sendResp.Data.DevCode+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var verifyResp struct {
		Success bool `json:"success"`
		Data    struct {
			Verified bool   `json:"verified"`
			Phone    string `json:"phone"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verifyResp))
	assert.True(t, verifyResp.Data.Verified)
	assert.Equal(t, "+40712345678", verifyResp.Data.Phone)
}

func TestVerificationHTTP_FailureIsGenericAnd400(t *testing.T) {
	router := newTestRouter(t, testHandlerConfig())

	rec := postJSON(t, router, "/api/v1/verification/verify",
		`{"phone":"0712345678","code":"123456"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid sau a expirat")
}

func TestVerificationHTTP_UnknownStationIs400(t *testing.T) {
	router := newTestRouter(t, testHandlerConfig())

	rec := postJSON(t, router, "/api/v1/verification/send",
		`{"phone":"0712345678","source":"kiosk","station_id":"no-such"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerificationHTTP_IPRateLimit(t *testing.T) {
	cfg := testHandlerConfig()
	cfg.RateLimit.ResendPerHourIP = 2
	router := newTestRouter(t, cfg)

	for i := 0; i < 2; i++ {
		rec := postJSON(t, router, "/api/v1/verification/resend", `{"phone":"0712345678"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := postJSON(t, router, "/api/v1/verification/resend", `{"phone":"0712345678"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRouter_UnknownEndpointIs404(t *testing.T) {
	router := newTestRouter(t, testHandlerConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "endpoint not found")
}
