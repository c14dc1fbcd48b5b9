package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	mrand "math/rand"
	"regexp"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/bucketing"
	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/hashing"
	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/phone"
	"github.com/trollofun/uitdeitp/internal/repository/scylla"
	"github.com/trollofun/uitdeitp/internal/util"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrStationNotFound    = errors.New("station not found")
	ErrReminderNotFound   = errors.New("reminder not found")
	ErrExternalService    = errors.New("external service unavailable")
	// ErrVerificationFailed covers every verify failure branch: unknown
	// phone, wrong code, expired code, exhausted attempts. Callers must
	// not distinguish between them.
	ErrVerificationFailed = errors.New("verification failed")
)

// genericVerifyMessage is the single Romanian message returned for every
// verification failure, so response content never leaks which branch fired.
// genericSendMessage plays the same role for code issuance: it is returned
// both when a code went out and when the phone's budget swallowed the
// request.
const (
	genericVerifyMessage = "Codul introdus este invalid sau a expirat."
	genericSendMessage   = "Daca numarul este valid, vei primi un SMS cu codul de verificare."
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// SMSSender delivers a single-segment message to a canonical +40 number.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// AuditPublisher records security-relevant events.
type AuditPublisher interface {
	PublishAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// PhoneBudget tracks per-phone code issuance against an hourly budget.
type PhoneBudget interface {
	IncrementPhoneCounter(ctx context.Context, phoneHash string, window time.Duration) (int, error)
}

// CodeRequest asks for a verification code to be sent to a phone.
type CodeRequest struct {
	Phone     string                    `json:"phone"`
	Source    models.VerificationSource `json:"source"`
	StationID string                    `json:"station_id,omitempty"`
	IPAddress string                    `json:"-"`
}

// CodeResponse deliberately says nothing about whether the phone is known.
type CodeResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expires_in"`
	DevCode   string `json:"dev_code,omitempty"`
}

// VerifyRequest submits a code for a phone.
type VerifyRequest struct {
	Phone     string `json:"phone"`
	Code      string `json:"code"`
	IPAddress string `json:"-"`
}

// VerifyResponse confirms a successful verification.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Phone    string `json:"phone"`
}

// VerificationService owns the OTP lifecycle: issue, resend, verify.
type VerificationService struct {
	verificationRepo scylla.VerificationRepository
	stationRepo      scylla.StationRepository
	hasher           *hashing.Hasher
	phoneBudget      PhoneBudget
	smsSender        SMSSender
	auditPublisher   AuditPublisher
	bucketingMgr     *bucketing.BucketingManager
	logger           *zap.Logger
	cfg              *config.Config
	now              func() time.Time
}

func NewVerificationService(
	verificationRepo scylla.VerificationRepository,
	stationRepo scylla.StationRepository,
	hasher *hashing.Hasher,
	phoneBudget PhoneBudget,
	smsSender SMSSender,
	auditPublisher AuditPublisher,
	bucketingMgr *bucketing.BucketingManager,
	logger *zap.Logger,
	cfg *config.Config,
) *VerificationService {
	return &VerificationService{
		verificationRepo: verificationRepo,
		stationRepo:      stationRepo,
		hasher:           hasher,
		phoneBudget:      phoneBudget,
		smsSender:        smsSender,
		auditPublisher:   auditPublisher,
		bucketingMgr:     bucketingMgr,
		logger:           logger,
		cfg:              cfg,
		now:              time.Now,
	}
}

// GeneratePhoneHash produces the stable lookup hash for a canonical number.
func GeneratePhoneHash(canonical string) string {
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// RequestCode issues a fresh code for the phone and sends it by SMS. The
// response is identical whether or not the phone was seen before.
func (s *VerificationService) RequestCode(ctx context.Context, req *CodeRequest) (*CodeResponse, error) {
	defer s.holdResponseFloor(s.now())

	return s.issueCode(ctx, req, "code_requested")
}

// ResendCode issues an additional code. Previously issued codes stay valid
// until they expire on their own, so a delayed first SMS still works.
func (s *VerificationService) ResendCode(ctx context.Context, req *CodeRequest) (*CodeResponse, error) {
	defer s.holdResponseFloor(s.now())

	return s.issueCode(ctx, req, "code_resent")
}

func (s *VerificationService) issueCode(ctx context.Context, req *CodeRequest, eventType string) (*CodeResponse, error) {
	startTime := s.now()

	canonical, err := phone.Normalize(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	switch req.Source {
	case models.SourceKiosk:
		if req.StationID == "" {
			return nil, fmt.Errorf("%w: station_id is required for kiosk requests", ErrInvalidInput)
		}
		station, err := s.stationRepo.GetBySlug(req.StationID)
		if err != nil {
			if errors.Is(err, gocql.ErrNotFound) {
				return nil, ErrStationNotFound
			}
			return nil, fmt.Errorf("failed to look up station: %w", err)
		}
		if !station.Active {
			return nil, ErrStationNotFound
		}
	case models.SourceDashboard, models.SourceAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, req.Source)
	}

	phoneHash := GeneratePhoneHash(canonical)

	count, err := s.phoneBudget.IncrementPhoneCounter(ctx, phoneHash, time.Hour)
	if err != nil {
		// Budget store down: let the request through rather than block
		// every legitimate user.
		s.logger.Warn("Phone budget check failed, allowing request",
			util.String("phone_hash", phoneHash),
			util.ErrorField(err))
	} else if count > s.cfg.Verification.MaxCodesPerHour {
		// The response must not differ from the success path, or probing
		// the budget would reveal which phones are in use. No code is
		// issued and no SMS goes out.
		s.publishAudit(ctx, "code_rate_limited", phoneHash, req)
		return &CodeResponse{
			Message:   genericSendMessage,
			ExpiresIn: int(s.cfg.Verification.CodeTTL.Seconds()),
		}, nil
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	hashResult, err := s.hasher.HashCode(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now().UTC()
	record := &models.VerificationRecord{
		PhoneNumber:   canonical,
		TimeBucket:    s.bucketingMgr.GetTimeBucket(now),
		CodeID:        gocql.TimeUUID().String(),
		CodeHash:      hashResult.Hash,
		CodeSalt:      hashResult.Salt,
		PepperVersion: hashResult.PepperVersion,
		Algorithm:     hashResult.Algorithm,
		Source:        req.Source,
		StationID:     req.StationID,
		Verified:      false,
		ExpiresAt:     now.Add(s.cfg.Verification.CodeTTL),
		CreatedAt:     now,
	}

	if err := s.verificationRepo.Create(record); err != nil {
		return nil, fmt.Errorf("failed to store verification record: %w", err)
	}

	message := fmt.Sprintf("Codul tau de verificare uitdeITP este %s. Expira in %d minute.",
		code, int(s.cfg.Verification.CodeTTL.Minutes()))
	if err := s.smsSender.Send(ctx, canonical, message); err != nil {
		s.logger.Error("Failed to send verification SMS",
			util.String("phone_hash", phoneHash),
			util.ErrorField(err))
		// Outside production a broken gateway must not block testing; the
		// code is still persisted and echoed in dev mode.
		if s.cfg.IsProduction() {
			return nil, fmt.Errorf("%w: sms delivery failed", ErrExternalService)
		}
	}

	s.publishAudit(ctx, eventType, phoneHash, req)

	s.logger.Info("Verification code issued",
		util.String("phone_hash", phoneHash),
		util.String("code_id", record.CodeID),
		util.String("source", string(req.Source)),
		util.Duration("duration", time.Since(startTime)),
	)

	resp := &CodeResponse{
		Message:   genericSendMessage,
		ExpiresIn: int(s.cfg.Verification.CodeTTL.Seconds()),
	}
	if s.cfg.Verification.EchoCodeInDev && !s.cfg.IsProduction() {
		resp.DevCode = code
	}
	return resp, nil
}

// VerifyCode checks a submitted code. Every failure branch returns the same
// ErrVerificationFailed so neither content nor timing reveals which check
// rejected the attempt.
func (s *VerificationService) VerifyCode(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	defer s.holdResponseFloor(s.now())

	canonical, err := phone.Normalize(req.Phone)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	if !codePattern.MatchString(req.Code) {
		return nil, ErrVerificationFailed
	}

	phoneHash := GeneratePhoneHash(canonical)
	now := s.now().UTC()

	record, err := s.verificationRepo.LatestActive(canonical, now, s.cfg.Verification.MaxAttempts)
	if err != nil {
		if !errors.Is(err, gocql.ErrNotFound) {
			s.logger.Error("Failed to load verification record",
				util.String("phone_hash", phoneHash),
				util.ErrorField(err))
		}
		s.publishVerifyAudit(ctx, "verify_failed", phoneHash, req.IPAddress, "no active code")
		return nil, ErrVerificationFailed
	}

	// The attempt is burned before the comparison so a crashed or aborted
	// request still counts against the budget.
	if err := s.verificationRepo.IncrementAttempts(canonical, record.CodeID); err != nil {
		s.logger.Error("Failed to increment attempt counter",
			util.String("phone_hash", phoneHash),
			util.ErrorField(err))
		return nil, ErrVerificationFailed
	}

	if record.Attempts+1 > s.cfg.Verification.MaxAttempts {
		s.publishVerifyAudit(ctx, "verify_failed", phoneHash, req.IPAddress, "attempts exhausted")
		return nil, ErrVerificationFailed
	}

	ok, err := s.hasher.VerifyCode(req.Code, &hashing.HashResult{
		Hash:          record.CodeHash,
		Salt:          record.CodeSalt,
		PepperVersion: record.PepperVersion,
		Algorithm:     record.Algorithm,
	})
	if err != nil || !ok {
		s.publishVerifyAudit(ctx, "verify_failed", phoneHash, req.IPAddress, "code mismatch")
		return nil, ErrVerificationFailed
	}

	if err := s.verificationRepo.MarkVerified(canonical, record.CodeID, now); err != nil {
		s.logger.Error("Failed to mark record verified",
			util.String("phone_hash", phoneHash),
			util.ErrorField(err))
		return nil, ErrVerificationFailed
	}

	s.publishVerifyAudit(ctx, "verify_succeeded", phoneHash, req.IPAddress, "")

	s.logger.Info("Phone verified",
		util.String("phone_hash", phoneHash),
		util.String("code_id", record.CodeID),
	)

	return &VerifyResponse{Verified: true, Phone: canonical}, nil
}

// GenericVerifyMessage is what handlers surface for ErrVerificationFailed.
func GenericVerifyMessage() string {
	return genericVerifyMessage
}

// holdResponseFloor sleeps until the call has taken at least the configured
// floor plus a small random jitter. Applied on every exit path so timing
// does not distinguish success from any failure branch.
func (s *VerificationService) holdResponseFloor(startTime time.Time) {
	floor := s.cfg.Verification.ResponseFloor
	if floor <= 0 {
		return
	}
	target := floor + time.Duration(mrand.Int63n(int64(50*time.Millisecond)))
	if elapsed := s.now().Sub(startTime); elapsed < target {
		time.Sleep(target - elapsed)
	}
}

func (s *VerificationService) publishAudit(ctx context.Context, eventType, phoneHash string, req *CodeRequest) {
	s.publishEvent(ctx, &models.AuditEvent{
		EventType:  eventType,
		PhoneHash:  phoneHash,
		Source:     string(req.Source),
		StationID:  req.StationID,
		IPAddress:  req.IPAddress,
		OccurredAt: s.now().UTC(),
	})
}

func (s *VerificationService) publishVerifyAudit(ctx context.Context, eventType, phoneHash, ip, reason string) {
	s.publishEvent(ctx, &models.AuditEvent{
		EventType:  eventType,
		PhoneHash:  phoneHash,
		Reason:     reason,
		IPAddress:  ip,
		OccurredAt: s.now().UTC(),
	})
}

func (s *VerificationService) publishEvent(ctx context.Context, event *models.AuditEvent) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.PublishAuditEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish audit event",
			util.String("event_type", event.EventType),
			util.ErrorField(err))
	}
}

// generateCode draws a uniform 6-digit code from crypto/rand. Leading
// zeros are kept, so the space is the full 000000-999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
